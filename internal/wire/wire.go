// Package wire implements the binary framing for share traffic crossing the
// group broadcast channel. Each channel payload carries exactly one message.
//
// Message layout:
//
//	[magic (1)] [version (1)] [type (varint)] [body] [crc32c (4, big-endian)]
//
// FRAME body:
//
//	[session (16)] [seq (varint)] [flags (1)] [codec (1)]
//	[width (varint)] [height (varint)] [captured_at µs (varint)]
//	[payload_len (varint)] [payload]
//
// GOODBYE body:
//
//	[session (16)] [reason_len (varint)] [reason]
package wire

import (
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

const (
	Magic   byte = 0x59
	Version byte = 0x01
)

// Message type IDs.
const (
	MsgFrame   uint64 = 0x01
	MsgGoodbye uint64 = 0x02
)

const flagKeyframe byte = 1 << 0

// Goodbye announces the end of a share session so receivers can tear down
// their per-session playback state without waiting for a timeout.
type Goodbye struct {
	SessionID uuid.UUID
	Reason    string
}

// MessageType peeks at the type of a raw channel payload without verifying
// the checksum. Receivers use it to dispatch to the matching Parse function.
func MessageType(data []byte) (uint64, error) {
	if len(data) < 3 {
		return 0, ErrTruncated
	}
	if data[0] != Magic {
		return 0, ErrBadMagic
	}
	if data[1] != Version {
		return 0, ErrVersion
	}
	t, _, err := quicvarint.Parse(data[2:])
	if err != nil {
		return 0, &ParseError{Field: "message_type", Err: err}
	}
	return t, nil
}

// AppendFrame appends a serialized FRAME message to buf and returns the
// extended slice. A single Append per frame keeps the channel publish one
// contiguous write.
func AppendFrame(buf []byte, f *media.EncodedFrame) []byte {
	start := len(buf)
	buf = append(buf, Magic, Version)
	buf = quicvarint.Append(buf, MsgFrame)
	buf = append(buf, f.SessionID[:]...)
	buf = quicvarint.Append(buf, f.Seq)

	var flags byte
	if f.IsKeyframe {
		flags |= flagKeyframe
	}
	buf = append(buf, flags, byte(f.Codec))

	buf = quicvarint.Append(buf, uint64(f.Width))
	buf = quicvarint.Append(buf, uint64(f.Height))

	us := f.CapturedAt.UnixMicro()
	if us < 0 {
		us = 0
	}
	buf = quicvarint.Append(buf, uint64(us))

	buf = quicvarint.Append(buf, uint64(len(f.Payload)))
	buf = append(buf, f.Payload...)

	return appendChecksum(buf, start)
}

// ParseFrame decodes a FRAME message. The payload slice references data;
// callers that retain the frame beyond the callback must not reuse the
// buffer.
func ParseFrame(data []byte) (*media.EncodedFrame, error) {
	body, err := splitChecksum(data)
	if err != nil {
		return nil, err
	}

	r, err := openMessage(body, MsgFrame)
	if err != nil {
		return nil, err
	}

	var f media.EncodedFrame
	session, err := r.readBytes(16)
	if err != nil {
		return nil, &ParseError{Field: "session", Err: err}
	}
	copy(f.SessionID[:], session)

	f.Seq, err = r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "seq", Err: err}
	}

	flags, err := r.readByte()
	if err != nil {
		return nil, &ParseError{Field: "flags", Err: err}
	}
	f.IsKeyframe = flags&flagKeyframe != 0

	codec, err := r.readByte()
	if err != nil {
		return nil, &ParseError{Field: "codec", Err: err}
	}
	f.Codec = media.Codec(codec)

	w, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "width", Err: err}
	}
	h, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "height", Err: err}
	}
	f.Width, f.Height = int(w), int(h)

	us, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "captured_at", Err: err}
	}
	if us > 0 {
		f.CapturedAt = time.UnixMicro(int64(us))
	}

	plen, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "payload_len", Err: err}
	}
	if plen > media.MaxFramePayload {
		return nil, &ParseError{Field: "payload_len", Err: ErrTooLarge}
	}
	f.Payload, err = r.readBytes(int(plen))
	if err != nil {
		return nil, &ParseError{Field: "payload", Err: err}
	}

	return &f, nil
}

// AppendGoodbye appends a serialized GOODBYE message to buf.
func AppendGoodbye(buf []byte, session uuid.UUID, reason string) []byte {
	start := len(buf)
	buf = append(buf, Magic, Version)
	buf = quicvarint.Append(buf, MsgGoodbye)
	buf = append(buf, session[:]...)
	buf = appendVarIntBytes(buf, []byte(reason))
	return appendChecksum(buf, start)
}

// ParseGoodbye decodes a GOODBYE message.
func ParseGoodbye(data []byte) (Goodbye, error) {
	var g Goodbye

	body, err := splitChecksum(data)
	if err != nil {
		return g, err
	}

	r, err := openMessage(body, MsgGoodbye)
	if err != nil {
		return g, err
	}

	session, err := r.readBytes(16)
	if err != nil {
		return g, &ParseError{Field: "session", Err: err}
	}
	copy(g.SessionID[:], session)

	reason, err := r.readVarIntBytes()
	if err != nil {
		return g, &ParseError{Field: "reason", Err: err}
	}
	g.Reason = string(reason)

	return g, nil
}

// openMessage validates the fixed prefix of body and checks that the message
// type matches want, returning a reader positioned at the message body.
func openMessage(body []byte, want uint64) (*bufReader, error) {
	r := newBufReader(body)

	magic, err := r.readByte()
	if err != nil {
		return nil, ErrTruncated
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}

	version, err := r.readByte()
	if err != nil {
		return nil, ErrTruncated
	}
	if version != Version {
		return nil, ErrVersion
	}

	msgType, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "message_type", Err: err}
	}
	if msgType != want {
		return nil, ErrUnknownMessage
	}
	return r, nil
}

// appendVarIntBytes appends a varint-length-prefixed byte string to buf.
func appendVarIntBytes(buf []byte, data []byte) []byte {
	buf = quicvarint.Append(buf, uint64(len(data)))
	return append(buf, data...)
}

// bufReader wraps a byte slice for sequential varint/byte reading.
type bufReader struct {
	data []byte
	pos  int
}

func newBufReader(data []byte) *bufReader {
	return &bufReader{data: data}
}

func (b *bufReader) readVarint() (uint64, error) {
	if b.pos >= len(b.data) {
		return 0, ErrTruncated
	}
	val, n, err := quicvarint.Parse(b.data[b.pos:])
	if err != nil {
		return 0, ErrTruncated
	}
	b.pos += n
	return val, nil
}

func (b *bufReader) readByte() (byte, error) {
	if b.pos >= len(b.data) {
		return 0, ErrTruncated
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *bufReader) readBytes(n int) ([]byte, error) {
	end := b.pos + n
	if n < 0 || end > len(b.data) {
		return nil, ErrTruncated
	}
	val := b.data[b.pos:end]
	b.pos = end
	return val, nil
}

func (b *bufReader) readVarIntBytes() ([]byte, error) {
	length, err := b.readVarint()
	if err != nil {
		return nil, err
	}
	return b.readBytes(int(length))
}
