package capture

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

// Mailbox is a single-slot handoff between one capture loop and one encode
// loop. Put never blocks: an unconsumed frame is overwritten and counted as
// dropped, so the consumer always sees the freshest capture.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	slot   *media.Bitmap
	closed bool

	drops atomic.Uint64
}

func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put publishes a bitmap, replacing any unconsumed one. No-op after Close.
func (m *Mailbox) Put(bm *media.Bitmap) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.slot != nil {
		m.drops.Add(1)
	}
	m.slot = bm
	m.cond.Signal()
	m.mu.Unlock()
}

// Take blocks until a bitmap is available, the context is cancelled, or the
// mailbox is closed.
func (m *Mailbox) Take(ctx context.Context) (*media.Bitmap, error) {
	// Broadcasting under the lock orders the wakeup after ctx.Err() is
	// observable, so Wait cannot miss the cancellation.
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.slot == nil {
		if m.closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.cond.Wait()
	}
	bm := m.slot
	m.slot = nil
	return bm, nil
}

// Close releases all waiters. Idempotent.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.slot = nil
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Drops reports how many frames were overwritten before being consumed.
func (m *Mailbox) Drops() uint64 {
	return m.drops.Load()
}
