package encode

import (
	"bytes"
	"testing"
)

func TestSplitNALUsMixedStartCodes(t *testing.T) {
	t.Parallel()
	stream := []byte{
		0, 0, 0, 1, 0x67, 0xaa, 0xbb, // SPS, 4-byte start code
		0, 0, 1, 0x68, 0xcc, // PPS, 3-byte start code
		0, 0, 0, 1, 0x65, 0x11, 0x22, // IDR
	}

	units := SplitNALUs(stream)
	if len(units) != 3 {
		t.Fatalf("units = %d, want 3", len(units))
	}
	wantTypes := []byte{NALTypeSPS, NALTypePPS, NALTypeIDR}
	for i, u := range units {
		if NALType(u) != wantTypes[i] {
			t.Errorf("unit %d type = %d, want %d", i, NALType(u), wantTypes[i])
		}
	}
	if !bytes.Equal(units[1], []byte{0x68, 0xcc}) {
		t.Errorf("unit 1 = %x, want start code stripped", units[1])
	}
}

func TestSplitNALUsNoStartCode(t *testing.T) {
	t.Parallel()
	if units := SplitNALUs([]byte{0x65, 0x01, 0x02}); units != nil {
		t.Fatalf("units = %v, want nil for raw data", units)
	}
}

func TestSplitNALUsEmpty(t *testing.T) {
	t.Parallel()
	if units := SplitNALUs(nil); units != nil {
		t.Fatalf("units = %v, want nil", units)
	}
}

func TestContainsIDR(t *testing.T) {
	t.Parallel()
	idr := []byte{0, 0, 0, 1, 0x67, 0xaa, 0, 0, 1, 0x65, 0x01}
	if !ContainsIDR(idr) {
		t.Error("IDR access unit not detected")
	}

	delta := []byte{0, 0, 0, 1, 0x41, 0x01}
	if ContainsIDR(delta) {
		t.Error("plain slice reported as IDR")
	}
}
