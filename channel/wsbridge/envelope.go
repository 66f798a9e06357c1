package wsbridge

import (
	"errors"

	"github.com/quic-go/quic-go/quicvarint"
)

// ErrBadEnvelope is returned for a fan-out message whose sender header is
// malformed.
var ErrBadEnvelope = errors.New("wsbridge: malformed envelope")

const maxPeerIDLen = 256

// The hub prefixes every fanned-out payload with the sender's peer id so
// receivers can demux by sharer: varint id length, id bytes, payload.
func appendEnvelope(buf []byte, sender string, payload []byte) []byte {
	buf = quicvarint.Append(buf, uint64(len(sender)))
	buf = append(buf, sender...)
	return append(buf, payload...)
}

func splitEnvelope(data []byte) (sender string, payload []byte, err error) {
	n, l, err := quicvarint.Parse(data)
	if err != nil || n > maxPeerIDLen || int(n) > len(data)-l {
		return "", nil, ErrBadEnvelope
	}
	return string(data[l : l+int(n)]), data[l+int(n):], nil
}
