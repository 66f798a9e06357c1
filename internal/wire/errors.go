package wire

import (
	"errors"
	"fmt"
)

// Sentinel errors for frame parsing. The channel gives no delivery
// guarantees, so receivers dispatch on these with errors.Is and drop the
// payload rather than failing the stream.
var (
	ErrBadMagic       = errors.New("wire: bad magic byte")
	ErrVersion        = errors.New("wire: unsupported version")
	ErrChecksum       = errors.New("wire: checksum mismatch")
	ErrTruncated      = errors.New("wire: truncated message")
	ErrTooLarge       = errors.New("wire: payload exceeds limit")
	ErrUnknownMessage = errors.New("wire: unknown message type")
)

// ParseError records which field was being read when a message failed to
// parse. It wraps the underlying format error.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("wire: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
