package playback

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"golang.org/x/image/draw"

	"github.com/The404Studios/Yurt-Cord-sub006/internal/wire"
	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

// ErrNoReference means a delta frame arrived with no canvas to composite
// onto. The stream keeps going; the next keyframe reseeds the canvas.
var ErrNoReference = errors.New("playback: delta frame without reference canvas")

// FrameDecoder turns one encoded frame into a full RGBA image. canvas is
// the previously decoded image for the stream, nil before the first
// decodable frame; decoders that composite deltas draw onto it. The
// returned image may alias canvas, so callers copy before sharing it.
type FrameDecoder interface {
	Decode(f *media.EncodedFrame, canvas *image.RGBA) (*image.RGBA, error)
}

// DecoderFactory builds a fresh decoder instance. Every stream gets its
// own, because decoders hold per-stream state.
type DecoderFactory func() (FrameDecoder, error)

var (
	decoderMu sync.RWMutex
	decoders  = map[media.Codec]DecoderFactory{
		media.CodecJPEG:        func() (FrameDecoder, error) { return jpegDecoder{}, nil },
		media.CodecJPEGRegions: func() (FrameDecoder, error) { return regionDecoder{}, nil },
	}
)

// RegisterDecoder makes codec playable. Construction happens lazily, once
// per stream, on the first frame carrying the codec. Registering again
// replaces the previous factory.
func RegisterDecoder(codec media.Codec, factory DecoderFactory) {
	decoderMu.Lock()
	defer decoderMu.Unlock()
	decoders[codec] = factory
}

func newDecoder(codec media.Codec) (FrameDecoder, error) {
	decoderMu.RLock()
	factory, ok := decoders[codec]
	decoderMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no decoder for codec %s", codec)
	}
	return factory()
}

// jpegDecoder handles full-frame keyframes. Every decode replaces the
// canvas outright.
type jpegDecoder struct{}

var _ FrameDecoder = jpegDecoder{}

func (jpegDecoder) Decode(f *media.EncodedFrame, _ *image.RGBA) (*image.RGBA, error) {
	img, err := jpeg.Decode(bytes.NewReader(f.Payload))
	if err != nil {
		return nil, fmt.Errorf("decode keyframe: %w", err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	return dst, nil
}

// regionDecoder composites JPEG crops onto the previous canvas. A delta
// cannot stand alone: no canvas, or a canvas at another resolution, makes
// the frame undecodable until the next keyframe.
type regionDecoder struct{}

var _ FrameDecoder = regionDecoder{}

func (regionDecoder) Decode(f *media.EncodedFrame, canvas *image.RGBA) (*image.RGBA, error) {
	if canvas == nil {
		return nil, ErrNoReference
	}
	if b := canvas.Bounds(); b.Dx() != f.Width || b.Dy() != f.Height {
		return nil, ErrNoReference
	}

	chunks, err := wire.ParseRegions(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("parse regions: %w", err)
	}

	// Decode every crop before touching the canvas, so a bad chunk
	// cannot leave it half updated.
	crops := make([]image.Image, len(chunks))
	for i, c := range chunks {
		img, err := jpeg.Decode(bytes.NewReader(c.Data))
		if err != nil {
			return nil, fmt.Errorf("decode region at (%d,%d): %w", c.Region.X, c.Region.Y, err)
		}
		crops[i] = img
	}
	for i, c := range chunks {
		r := image.Rect(c.Region.X, c.Region.Y, c.Region.X+c.Region.W, c.Region.Y+c.Region.H)
		draw.Draw(canvas, r, crops[i], crops[i].Bounds().Min, draw.Src)
	}
	return canvas, nil
}

// cloneRGBA copies an image so the caller can hold it while the decode
// loop keeps mutating the original.
func cloneRGBA(src *image.RGBA) *image.RGBA {
	return &image.RGBA{
		Pix:    append([]byte(nil), src.Pix...),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
}
