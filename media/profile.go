package media

import "fmt"

// EncoderKind selects which encoder family a profile drives.
type EncoderKind uint8

const (
	EncoderSoftware EncoderKind = iota
	EncoderHardware
)

func (k EncoderKind) String() string {
	if k == EncoderHardware {
		return "hardware"
	}
	return "software"
}

// Profile is the active encoding configuration for a session. The quality
// controller publishes a fresh snapshot on every adaptation step; pipeline
// stages read one snapshot per frame and never mutate it. Frame rate is
// deliberately not part of the profile: adaptation trades quality and
// resolution, never cadence.
type Profile struct {
	Width       int
	Height      int
	Quality     int // JPEG quality, 1-100, software path only
	BitrateKbps int // target bitrate, hardware path only
	Kind        EncoderKind
}

// Resolution formats the profile dimensions for logs.
func (p Profile) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}
