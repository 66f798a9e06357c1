package broadcast

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

// ErrQueueClosed is returned by Pop after the producer shut the queue down.
var ErrQueueClosed = errors.New("broadcast: send queue closed")

// Queue is the bounded FIFO between the encode and send loops. Push never
// blocks: when depth passes the high-water mark the oldest fraction of the
// queue is dropped and a keyframe is requested, so the receiver can resync
// past the hole.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames []*media.EncodedFrame
	closed bool

	highWater    int
	dropFraction float64

	needKeyframe atomic.Bool
	dropped      atomic.Uint64
}

func NewQueue(highWater int, dropFraction float64) *Queue {
	q := &Queue{highWater: highWater, dropFraction: dropFraction}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a frame, shedding the oldest entries on overflow. No-op
// after Close.
func (q *Queue) Push(f *media.EncodedFrame) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.frames = append(q.frames, f)
	if len(q.frames) > q.highWater {
		drop := int(math.Ceil(float64(len(q.frames)) * q.dropFraction))
		q.frames = q.frames[:copy(q.frames, q.frames[drop:])]
		q.dropped.Add(uint64(drop))
		q.needKeyframe.Store(true)
	}
	q.cond.Signal()
	q.mu.Unlock()
}

// Pop blocks until a frame is available, the context is cancelled, or the
// queue is closed.
func (q *Queue) Pop(ctx context.Context) (*media.EncodedFrame, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.cond.Wait()
	}
	f := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return f, nil
}

// Close releases all waiters and discards anything still queued.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.frames = nil
	q.cond.Broadcast()
	q.mu.Unlock()
}

// NeedKeyframe reports and clears the pending keyframe request.
func (q *Queue) NeedKeyframe() bool {
	return q.needKeyframe.Swap(false)
}

// RequestKeyframe asks the encode loop to make the next frame a full one.
func (q *Queue) RequestKeyframe() {
	q.needKeyframe.Store(true)
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped reports frames shed by overflow.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
