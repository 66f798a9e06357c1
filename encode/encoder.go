// Package encode turns captured bitmaps into compressed frames. Two encoder
// families implement the same contract: the software path produces JPEG
// full frames and region deltas guided by motion detection, the hardware
// path drives a vendor H.264 encoder and skips motion detection entirely.
package encode

import (
	"errors"
	"log/slog"

	"github.com/The404Studios/Yurt-Cord-sub006/config"
	"github.com/The404Studios/Yurt-Cord-sub006/media"
	"github.com/The404Studios/Yurt-Cord-sub006/motion"
)

// ErrHardwareUnavailable reports that no native encoder could be
// initialized. Session setup falls back to the software encoder on it.
var ErrHardwareUnavailable = errors.New("encode: hardware encoder unavailable")

// Encoder compresses one bitmap per call under the given profile.
//
// change carries the motion result for the frame; the hardware encoder
// ignores it. A nil frame with nil error means the encoder chose to emit
// nothing (change below the minimum, no keyframe due). forceKeyframe makes
// the next emitted frame independently decodable.
//
// The returned frame has Codec, IsKeyframe, dimensions, CapturedAt and
// Payload set; session identity and sequencing belong to the send pipeline.
type Encoder interface {
	Encode(bm *media.Bitmap, p media.Profile, change *motion.Result, forceKeyframe bool) (*media.EncodedFrame, error)
	Kind() media.EncoderKind
	Close() error
}

// Select picks the encoder for a session: the native encoder when one is
// present, initializes, and the configuration allows it, otherwise software.
// Hardware failure is not fatal; it downgrades with a warning. width and
// height are the capture dimensions used to probe the native encoder.
func Select(cfg config.Config, width, height int, native Native, log *slog.Logger) Encoder {
	if cfg.PreferHardware && native != nil {
		hw, err := NewHardware(native, cfg, width, height, log)
		if err == nil {
			log.Info("using hardware encoder", "width", width, "height", height)
			return hw
		}
		log.Warn("hardware encoder unavailable, using software encoder", "error", err)
	}
	return NewSoftware(cfg)
}
