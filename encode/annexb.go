package encode

// H.264 NAL unit types (ITU-T H.264 Table 7-1) the hardware path inspects.
const (
	NALTypeIDR = 5
	NALTypeSPS = 7
	NALTypePPS = 8
)

// SplitNALUs walks an Annex B access unit and returns the NAL units without
// start codes. Both 3-byte and 4-byte start codes are recognized.
func SplitNALUs(data []byte) [][]byte {
	var units [][]byte
	start := -1
	n := len(data)

	flush := func(end int) {
		if start >= 0 && end > start {
			units = append(units, data[start:end])
		}
	}

	for i := 0; i+2 < n; {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		switch {
		case data[i+2] == 1:
			flush(i)
			start = i + 3
			i += 3
		case i+3 < n && data[i+2] == 0 && data[i+3] == 1:
			flush(i)
			start = i + 4
			i += 4
		default:
			i++
		}
	}
	flush(n)
	return units
}

// NALType extracts the type from the first header byte of a NAL unit.
func NALType(nalu []byte) byte {
	if len(nalu) == 0 {
		return 0
	}
	return nalu[0] & 0x1f
}

// ContainsIDR reports whether the access unit carries an IDR slice, which
// is what makes a hardware frame a keyframe.
func ContainsIDR(data []byte) bool {
	for _, nalu := range SplitNALUs(data) {
		if NALType(nalu) == NALTypeIDR {
			return true
		}
	}
	return false
}
