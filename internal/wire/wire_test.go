package wire

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

func sampleFrame() *media.EncodedFrame {
	return &media.EncodedFrame{
		SessionID:  uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Seq:        42,
		IsKeyframe: true,
		Codec:      media.CodecJPEG,
		Width:      1280,
		Height:     720,
		CapturedAt: time.UnixMicro(1724300000123456),
		Payload:    []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10},
	}
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()
	want := sampleFrame()
	data := AppendFrame(nil, want)

	got, err := ParseFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != want.SessionID {
		t.Errorf("session = %s, want %s", got.SessionID, want.SessionID)
	}
	if got.Seq != want.Seq {
		t.Errorf("seq = %d, want %d", got.Seq, want.Seq)
	}
	if !got.IsKeyframe {
		t.Error("keyframe flag lost")
	}
	if got.Codec != want.Codec {
		t.Errorf("codec = %v, want %v", got.Codec, want.Codec)
	}
	if got.Width != want.Width || got.Height != want.Height {
		t.Errorf("dimensions = %dx%d, want %dx%d", got.Width, got.Height, want.Width, want.Height)
	}
	if !got.CapturedAt.Equal(want.CapturedAt) {
		t.Errorf("captured at = %v, want %v", got.CapturedAt, want.CapturedAt)
	}
	if !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("payload = %x, want %x", got.Payload, want.Payload)
	}
}

func TestFrameDeltaFlagsClear(t *testing.T) {
	t.Parallel()
	f := sampleFrame()
	f.IsKeyframe = false
	f.Codec = media.CodecJPEGRegions

	got, err := ParseFrame(AppendFrame(nil, f))
	if err != nil {
		t.Fatal(err)
	}
	if got.IsKeyframe {
		t.Error("delta frame parsed as keyframe")
	}
	if got.Codec != media.CodecJPEGRegions {
		t.Errorf("codec = %v, want %v", got.Codec, media.CodecJPEGRegions)
	}
}

func TestFrameAppendsToExistingBuffer(t *testing.T) {
	t.Parallel()
	prefix := []byte("scratch")
	data := AppendFrame(append([]byte(nil), prefix...), sampleFrame())

	if _, err := ParseFrame(data[len(prefix):]); err != nil {
		t.Fatalf("message after prefix failed to parse: %v", err)
	}
}

func TestFrameChecksumMismatch(t *testing.T) {
	t.Parallel()
	data := AppendFrame(nil, sampleFrame())
	data[len(data)/2] ^= 0x01

	_, err := ParseFrame(data)
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("err = %v, want ErrChecksum", err)
	}
}

func TestFrameTruncated(t *testing.T) {
	t.Parallel()
	data := AppendFrame(nil, sampleFrame())

	for cut := 1; cut < len(data); cut++ {
		_, err := ParseFrame(data[:cut])
		if err == nil {
			t.Fatalf("truncation to %d bytes parsed successfully", cut)
		}
	}
}

func TestFrameTruncatedFieldNamed(t *testing.T) {
	t.Parallel()
	// Strip the payload and recompute the checksum so the failure lands on
	// the payload field, not the CRC.
	f := sampleFrame()
	data := AppendFrame(nil, f)
	body := data[: len(data)-4-len(f.Payload) : len(data)-4-len(f.Payload)]
	data = appendChecksum(body, 0)

	_, err := ParseFrame(data)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if pe.Field != "payload" {
		t.Errorf("field = %q, want %q", pe.Field, "payload")
	}
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("err = %v, does not unwrap to ErrTruncated", err)
	}
}

func TestFrameBadMagic(t *testing.T) {
	t.Parallel()
	data := AppendFrame(nil, sampleFrame())
	data[0] = 0x00
	data = appendChecksum(data[:len(data)-4], 0)

	if _, err := ParseFrame(data); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestFrameVersionMismatch(t *testing.T) {
	t.Parallel()
	data := AppendFrame(nil, sampleFrame())
	data[1] = 0x7f
	data = appendChecksum(data[:len(data)-4], 0)

	if _, err := ParseFrame(data); !errors.Is(err, ErrVersion) {
		t.Fatalf("err = %v, want ErrVersion", err)
	}
}

func TestMessageTypeDispatch(t *testing.T) {
	t.Parallel()
	frame := AppendFrame(nil, sampleFrame())
	bye := AppendGoodbye(nil, uuid.New(), "stopped")

	if mt, err := MessageType(frame); err != nil || mt != MsgFrame {
		t.Fatalf("MessageType(frame) = %#x, %v; want MsgFrame", mt, err)
	}
	if mt, err := MessageType(bye); err != nil || mt != MsgGoodbye {
		t.Fatalf("MessageType(goodbye) = %#x, %v; want MsgGoodbye", mt, err)
	}
	if _, err := MessageType([]byte{0x00, 0x01, 0x01}); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestGoodbyeRoundTrip(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	g, err := ParseGoodbye(AppendGoodbye(nil, id, "display lost"))
	if err != nil {
		t.Fatal(err)
	}
	if g.SessionID != id {
		t.Errorf("session = %s, want %s", g.SessionID, id)
	}
	if g.Reason != "display lost" {
		t.Errorf("reason = %q, want %q", g.Reason, "display lost")
	}
}

func TestParseFrameRejectsGoodbye(t *testing.T) {
	t.Parallel()
	data := AppendGoodbye(nil, uuid.New(), "")
	if _, err := ParseFrame(data); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("err = %v, want ErrUnknownMessage", err)
	}
}

func TestRegionsRoundTrip(t *testing.T) {
	t.Parallel()
	want := []RegionChunk{
		{Region: media.Region{X: 0, Y: 0, W: 16, H: 16}, Data: []byte{1, 2, 3}},
		{Region: media.Region{X: 256, Y: 128, W: 48, H: 32}, Data: []byte{4}},
	}

	got, err := ParseRegions(AppendRegions(nil, want))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("chunk count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Region != want[i].Region {
			t.Errorf("chunk %d region = %+v, want %+v", i, got[i].Region, want[i].Region)
		}
		if !bytes.Equal(got[i].Data, want[i].Data) {
			t.Errorf("chunk %d data = %x, want %x", i, got[i].Data, want[i].Data)
		}
	}
}

func TestRegionsTruncated(t *testing.T) {
	t.Parallel()
	data := AppendRegions(nil, []RegionChunk{
		{Region: media.Region{X: 16, Y: 16, W: 16, H: 16}, Data: []byte{9, 9, 9, 9}},
	})

	_, err := ParseRegions(data[:len(data)-2])
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
}

func TestRegionsCountBeyondData(t *testing.T) {
	t.Parallel()
	// A count claiming more regions than the payload could hold.
	data := []byte{0xbf, 0xff} // 2-byte varint, value 16383
	if _, err := ParseRegions(data); err == nil {
		t.Fatal("expected error for absurd region count")
	}
}
