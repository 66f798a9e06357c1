package wire

import (
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

// RegionChunk is one changed rectangle with its compressed pixels. A
// CodecJPEGRegions payload is a sequence of chunks; receivers composite them
// onto the previously decoded frame.
type RegionChunk struct {
	Region media.Region
	Data   []byte
}

// AppendRegions packs region chunks into a delta payload:
//
//	[count (varint)] then per chunk
//	[x] [y] [w] [h] [data_len] (all varints) [data]
func AppendRegions(buf []byte, chunks []RegionChunk) []byte {
	buf = quicvarint.Append(buf, uint64(len(chunks)))
	for _, c := range chunks {
		buf = quicvarint.Append(buf, uint64(c.Region.X))
		buf = quicvarint.Append(buf, uint64(c.Region.Y))
		buf = quicvarint.Append(buf, uint64(c.Region.W))
		buf = quicvarint.Append(buf, uint64(c.Region.H))
		buf = appendVarIntBytes(buf, c.Data)
	}
	return buf
}

// ParseRegions unpacks a delta payload. Chunk data slices reference data.
func ParseRegions(data []byte) ([]RegionChunk, error) {
	r := newBufReader(data)

	count, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "region_count", Err: err}
	}
	// A region is at least 5 bytes encoded, so count is bounded by the
	// payload itself. Reject counts the data cannot possibly hold.
	if count > uint64(len(data)) {
		return nil, &ParseError{Field: "region_count", Err: ErrTooLarge}
	}

	chunks := make([]RegionChunk, 0, count)
	for i := uint64(0); i < count; i++ {
		var c RegionChunk
		fields := []struct {
			name string
			dst  *int
		}{
			{"region_x", &c.Region.X},
			{"region_y", &c.Region.Y},
			{"region_w", &c.Region.W},
			{"region_h", &c.Region.H},
		}
		for _, f := range fields {
			v, err := r.readVarint()
			if err != nil {
				return nil, &ParseError{Field: f.name, Err: err}
			}
			*f.dst = int(v)
		}
		c.Data, err = r.readVarIntBytes()
		if err != nil {
			return nil, &ParseError{Field: "region_data", Err: err}
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}
