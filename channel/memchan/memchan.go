// Package memchan is the in-process channel transport. One Hub carries any
// number of groups; peers join by id and fan out to every other group
// member through per-subscriber queues. A full queue drops the payload
// rather than stalling the publisher, and subscribers consume on their own
// goroutines, so cross-subscriber ordering is genuinely unguaranteed.
package memchan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/The404Studios/Yurt-Cord-sub006/channel"
)

// ErrClosed is returned by Publish after the hub shut down.
var ErrClosed = errors.New("memchan: hub closed")

const subscriberQueueDepth = 32

type delivery struct {
	sender  string
	payload []byte
}

type subscription struct {
	peerID string
	fn     channel.PayloadFunc
	queue  chan delivery
}

func (s *subscription) run() {
	for d := range s.queue {
		s.fn(d.sender, d.payload)
	}
}

// Hub is the shared in-process transport.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	groups map[string]map[*subscription]struct{}
	closed bool

	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{
		log:    slog.With("component", "memchan"),
		groups: make(map[string]map[*subscription]struct{}),
	}
}

// Join binds a peer id to the hub. The returned Peer carries both sides of
// the channel contract for that identity.
func (h *Hub) Join(peerID string) *Peer {
	return &Peer{hub: h, id: peerID}
}

// Dropped reports payloads discarded because a subscriber queue was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close tears down every subscription. Publishers get ErrClosed afterward.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, subs := range h.groups {
		for sub := range subs {
			close(sub.queue)
		}
	}
	h.groups = make(map[string]map[*subscription]struct{})
}

func (h *Hub) publish(sender, groupID string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for sub := range h.groups[groupID] {
		if sub.peerID == sender {
			continue
		}
		select {
		case sub.queue <- delivery{sender: sender, payload: payload}:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

func (h *Hub) subscribe(peerID, groupID string, fn channel.PayloadFunc) func() {
	sub := &subscription{
		peerID: peerID,
		fn:     fn,
		queue:  make(chan delivery, subscriberQueueDepth),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.queue)
		return func() {}
	}
	subs := h.groups[groupID]
	if subs == nil {
		subs = make(map[*subscription]struct{})
		h.groups[groupID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	go sub.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if subs, ok := h.groups[groupID]; ok {
				if _, live := subs[sub]; live {
					delete(subs, sub)
					if len(subs) == 0 {
						delete(h.groups, groupID)
					}
					close(sub.queue)
				}
			}
			h.mu.Unlock()
		})
	}
}

// Peer is one identity on the hub.
type Peer struct {
	hub *Hub
	id  string
}

var (
	_ channel.Channel    = (*Peer)(nil)
	_ channel.Subscriber = (*Peer)(nil)
)

func (p *Peer) ID() string { return p.id }

// Publish fans the payload out to every other subscriber of the group.
// Delivery is by reference; the caller gives up the buffer.
func (p *Peer) Publish(_ context.Context, groupID string, payload []byte) error {
	return p.hub.publish(p.id, groupID, payload)
}

// Subscribe registers fn for payloads other peers publish to the group.
func (p *Peer) Subscribe(groupID string, fn channel.PayloadFunc) func() {
	return p.hub.subscribe(p.id, groupID, fn)
}
