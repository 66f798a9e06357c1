// Package channel abstracts the group transport encoded frames travel
// over. Publishers hand the transport opaque payloads; nothing in the
// pipeline assumes ordering, delivery, or backpressure from it. Reordering
// and loss are the receiver's problem by contract.
package channel

import "context"

// PayloadFunc receives one payload published by a peer in the group. The
// payload is shared with other subscribers and must be treated as
// read-only; parse it or copy it before the callback returns ownership.
type PayloadFunc func(senderID string, payload []byte)

// Channel publishes opaque payloads into a group on behalf of one peer.
// The buffer must not be reused by the caller after Publish returns.
type Channel interface {
	Publish(ctx context.Context, groupID string, payload []byte) error
}

// Subscriber delivers payloads published by other peers in a group. The
// returned function removes the subscription and is safe to call once from
// any goroutine.
type Subscriber interface {
	Subscribe(groupID string, fn PayloadFunc) (unsubscribe func())
}

// VoiceGate reports whether a peer has voice audio waiting to transmit.
// Video publishing yields to voice, so a gate implementation must be cheap
// enough to poll before every frame.
type VoiceGate interface {
	PendingVoice(peerID string) bool
}

// NoVoice is the gate used when no voice transport is wired in.
type NoVoice struct{}

func (NoVoice) PendingVoice(string) bool { return false }
