package wire

import (
	"encoding/binary"
	"hash/crc32"
)

// Every message ends with a CRC-32C of the preceding bytes. The group
// channel promises nothing about integrity, so a damaged frame must be
// detectable before its payload reaches a decoder.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// appendChecksum appends the big-endian CRC of buf[start:] to buf.
func appendChecksum(buf []byte, start int) []byte {
	sum := crc32.Checksum(buf[start:], castagnoli)
	return binary.BigEndian.AppendUint32(buf, sum)
}

// splitChecksum checks that the last 4 bytes of data are the CRC of the
// preceding bytes and returns the body without the trailer.
func splitChecksum(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	body := data[:len(data)-4]
	stored := binary.BigEndian.Uint32(data[len(data)-4:])
	if crc32.Checksum(body, castagnoli) != stored {
		return nil, ErrChecksum
	}
	return body, nil
}
