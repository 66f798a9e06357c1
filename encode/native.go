package encode

import (
	"fmt"
	"log/slog"

	"github.com/The404Studios/Yurt-Cord-sub006/config"
	"github.com/The404Studios/Yurt-Cord-sub006/media"
	"github.com/The404Studios/Yurt-Cord-sub006/motion"
)

// Native is the contract a vendor-supplied H.264 encoder implements.
//
// Init configures the encoder for the given output resolution, cadence and
// target bitrate; it may be called again after Dispose to reconfigure.
// Encode consumes one bitmap (any input resolution; the implementation
// scales) and returns a complete Annex B access unit, or an empty slice
// while the encoder is still priming. frameIndex restarts at 0 when the
// caller wants the group closed with a fresh IDR; implementations that
// cannot honor that emit IDRs on their configured cadence and the output
// scan decides what actually came out.
type Native interface {
	Init(width, height, fps, bitrateKbps int) error
	Encode(bm *media.Bitmap, frameIndex int) ([]byte, error)
	Dispose()
}

// Hardware drives a Native encoder. Motion detection is bypassed: the
// vendor encoder sees every frame and does its own inter prediction.
// Keyframe marking comes from scanning the produced access unit for IDR
// slices rather than trusting the encoder to follow the requested cadence.
type Hardware struct {
	native  Native
	log     *slog.Logger
	fps     int
	width   int
	height  int
	bitrate int
	index   int
}

// NewHardware initializes native for the capture dimensions. A failed init
// wraps ErrHardwareUnavailable so setup can fall back to software.
func NewHardware(native Native, cfg config.Config, width, height int, log *slog.Logger) (*Hardware, error) {
	h := &Hardware{
		native: native,
		log:    log.With("component", "encode"),
		fps:    cfg.FPS,
		width:  width,
		height: height,
	}
	h.bitrate = effectiveBitrate(cfg.HardwareBitrateKbps, cfg.InitialQuality)
	if err := native.Init(width, height, h.fps, h.bitrate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}
	return h, nil
}

func (h *Hardware) Kind() media.EncoderKind { return media.EncoderHardware }

func (h *Hardware) Close() error {
	h.native.Dispose()
	return nil
}

func (h *Hardware) Encode(bm *media.Bitmap, p media.Profile, _ *motion.Result, forceKeyframe bool) (*media.EncodedFrame, error) {
	outW, outH := p.Width, p.Height
	if outW <= 0 || outH <= 0 {
		outW, outH = bm.Width, bm.Height
	}
	bitrate := effectiveBitrate(p.BitrateKbps, p.Quality)

	if outW != h.width || outH != h.height || bitrate != h.bitrate {
		h.native.Dispose()
		if err := h.native.Init(outW, outH, h.fps, bitrate); err != nil {
			return nil, fmt.Errorf("reconfigure native encoder: %w", err)
		}
		h.width, h.height, h.bitrate = outW, outH, bitrate
		h.index = 0
		h.log.Info("native encoder reconfigured",
			"resolution", fmt.Sprintf("%dx%d", outW, outH),
			"bitrate_kbps", bitrate,
		)
	}

	if forceKeyframe {
		h.index = 0
	}
	data, err := h.native.Encode(bm, h.index)
	if err != nil {
		return nil, fmt.Errorf("native encode: %w", err)
	}
	h.index++

	if len(data) == 0 {
		// Encoder is priming; nothing out yet.
		return nil, nil
	}

	return &media.EncodedFrame{
		IsKeyframe: ContainsIDR(data),
		Codec:      media.CodecH264,
		Width:      outW,
		Height:     outH,
		CapturedAt: bm.CapturedAt,
		Payload:    data,
	}, nil
}

// effectiveBitrate scales the configured bitrate by the profile quality,
// which the adaptation ladder treats as a percentage on the hardware path.
func effectiveBitrate(baseKbps, quality int) int {
	if baseKbps <= 0 {
		return 0
	}
	if quality < 1 || quality > 100 {
		quality = 100
	}
	kbps := baseKbps * quality / 100
	if kbps < 250 {
		kbps = 250
	}
	return kbps
}
