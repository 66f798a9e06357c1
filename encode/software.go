package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/The404Studios/Yurt-Cord-sub006/config"
	"github.com/The404Studios/Yurt-Cord-sub006/internal/wire"
	"github.com/The404Studios/Yurt-Cord-sub006/media"
	"github.com/The404Studios/Yurt-Cord-sub006/motion"
)

// Software encodes JPEG full frames and per-region JPEG deltas. A full
// frame goes out at least every FullFrameInterval calls even when nothing
// changed, so late joiners and drifted receivers resynchronize. A profile
// resolution change also forces a full frame, because deltas against the
// old canvas size cannot composite. Not safe for concurrent use; the
// encode loop owns it.
type Software struct {
	interval int
	seen     int // frames seen since the last keyframe
	lastW    int // output dims of the last emitted frame
	lastH    int
}

func NewSoftware(cfg config.Config) *Software {
	return &Software{interval: cfg.FullFrameInterval}
}

func (s *Software) Kind() media.EncoderKind { return media.EncoderSoftware }

func (s *Software) Close() error { return nil }

func (s *Software) Encode(bm *media.Bitmap, p media.Profile, change *motion.Result, forceKeyframe bool) (*media.EncodedFrame, error) {
	outW, outH := p.Width, p.Height
	if outW <= 0 || outH <= 0 {
		outW, outH = bm.Width, bm.Height
	}

	s.seen++
	keyframe := forceKeyframe || change == nil || change.FullFrame || s.seen >= s.interval ||
		outW != s.lastW || outH != s.lastH
	if !keyframe && (change.Skip || len(change.Regions) == 0) {
		return nil, nil
	}

	scaled := bm.RGBA()
	if outW != bm.Width || outH != bm.Height {
		dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), scaled, scaled.Bounds(), draw.Src, nil)
		scaled = dst
	}

	opts := &jpeg.Options{Quality: clampQuality(p.Quality)}

	if keyframe {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, scaled, opts); err != nil {
			return nil, fmt.Errorf("encode keyframe: %w", err)
		}
		s.seen = 0
		s.lastW, s.lastH = outW, outH
		return &media.EncodedFrame{
			IsKeyframe: true,
			Codec:      media.CodecJPEG,
			Width:      outW,
			Height:     outH,
			CapturedAt: bm.CapturedAt,
			Payload:    buf.Bytes(),
		}, nil
	}

	chunks := make([]wire.RegionChunk, 0, len(change.Regions))
	for _, r := range change.Regions {
		sr := scaleRegion(r, bm.Width, bm.Height, outW, outH)
		if sr.W <= 0 || sr.H <= 0 {
			continue
		}
		crop := scaled.SubImage(image.Rect(sr.X, sr.Y, sr.X+sr.W, sr.Y+sr.H)).(*image.RGBA)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, crop, opts); err != nil {
			return nil, fmt.Errorf("encode region %dx%d at (%d,%d): %w", sr.W, sr.H, sr.X, sr.Y, err)
		}
		chunks = append(chunks, wire.RegionChunk{Region: sr, Data: buf.Bytes()})
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	return &media.EncodedFrame{
		Codec:      media.CodecJPEGRegions,
		Width:      outW,
		Height:     outH,
		CapturedAt: bm.CapturedAt,
		Payload:    wire.AppendRegions(nil, chunks),
	}, nil
}

// scaleRegion maps a region from capture coordinates into the scaled output,
// expanding outward so the mapped rectangle covers every affected pixel.
func scaleRegion(r media.Region, srcW, srcH, dstW, dstH int) media.Region {
	if srcW == dstW && srcH == dstH {
		return r
	}
	x0 := r.X * dstW / srcW
	y0 := r.Y * dstH / srcH
	x1 := ((r.X+r.W)*dstW + srcW - 1) / srcW
	y1 := ((r.Y+r.H)*dstH + srcH - 1) / srcH
	x1 = min(x1, dstW)
	y1 = min(y1, dstH)
	return media.Region{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return 1
	case q > 100:
		return 100
	default:
		return q
	}
}
