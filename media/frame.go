// Package media defines the core frame types that flow through the share
// pipeline, from display capture through encoding to viewer playback.
package media

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// MaxFramePayload caps the encoded payload size accepted by the wire codec.
// Parsing rejects anything larger before allocating, so a corrupt length
// field cannot balloon memory. A 4K full-frame JPEG at quality 90 stays well
// under 4 MiB; hardware IDR frames are smaller still.
const MaxFramePayload = 8 << 20

// Bitmap is a single captured frame in RGBA order, 4 bytes per pixel, as
// produced by the capture backend. Ownership transfers on handoff: the
// producer must not touch Data after publishing the bitmap.
type Bitmap struct {
	Data       []byte
	Width      int
	Height     int
	Stride     int
	CapturedAt time.Time
	Seq        uint64
}

// FromRGBA wraps a decoded RGBA image as a Bitmap without copying pixels.
func FromRGBA(img *image.RGBA, seq uint64, at time.Time) *Bitmap {
	b := img.Bounds()
	return &Bitmap{
		Data:       img.Pix,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Stride:     img.Stride,
		CapturedAt: at,
		Seq:        seq,
	}
}

// RGBA returns an image view over the bitmap's pixels. The view shares
// memory with the bitmap.
func (b *Bitmap) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    b.Data,
		Stride: b.Stride,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// Region is a changed area of the frame, block-aligned by the motion
// detector except at the right and bottom edges.
type Region struct {
	X int
	Y int
	W int
	H int
}

// Codec identifies the encoding of a frame payload on the wire.
type Codec uint8

const (
	CodecJPEG        Codec = 1 // full-frame JPEG
	CodecJPEGRegions Codec = 2 // packed per-region JPEG deltas
	CodecH264        Codec = 3 // Annex B access unit from a native encoder
)

func (c Codec) String() string {
	switch c {
	case CodecJPEG:
		return "jpeg"
	case CodecJPEGRegions:
		return "jpeg-regions"
	case CodecH264:
		return "h264"
	default:
		return "unknown"
	}
}

// EncodedFrame is one compressed frame ready for distribution. Seq is
// assigned by the send pipeline and is strictly monotonic within a session;
// receivers reorder on it. Keyframes are decodable without prior state.
type EncodedFrame struct {
	SessionID  uuid.UUID
	Seq        uint64
	IsKeyframe bool
	Codec      Codec
	Width      int
	Height     int
	CapturedAt time.Time
	Payload    []byte
}
