// Package playback reassembles a viewer's picture of remote shares: it
// reorders frames arriving over an unordered channel, decodes them, and
// keeps the latest image and a thumbnail per sharer.
package playback

import (
	"sort"
	"sync"
	"time"

	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

// State is the playout phase of a jitter buffer.
type State int32

const (
	// StateBuffering holds frames until enough depth accumulates to
	// absorb arrival jitter.
	StateBuffering State = iota
	// StatePlaying releases frames in sequence order, paced at the frame
	// interval.
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// JitterBuffer reorders one session's frames by sequence number. The
// channel guarantees neither order nor delivery, so frames arrive early,
// late, duplicated, or not at all; the buffer absorbs that and hands the
// release loop a strictly increasing sequence.
//
// Insert never blocks. Pop releases at most one frame per frame interval
// once playing; a missing sequence is waited on up to the gap timeout,
// then the cursor jumps to the oldest buffered frame.
type JitterBuffer struct {
	mu     sync.Mutex
	frames []*media.EncodedFrame // sorted by Seq, no duplicates

	state    State
	next     uint64    // seq the cursor expects; valid once playing
	lastPop  time.Time // when the last frame was released
	gapSince time.Time // when the cursor first found next missing

	target     int
	depthCap   int
	interval   time.Duration
	gapTimeout time.Duration

	received   uint64
	duplicates uint64
	dropped    uint64 // evicted on overflow or arrived behind the cursor
	skipped    uint64 // sequences abandoned after a gap timeout
}

// JitterStats is a point-in-time snapshot of a buffer's counters.
type JitterStats struct {
	State      string `json:"state"`
	Depth      int    `json:"depth"`
	Received   uint64 `json:"received"`
	Duplicates uint64 `json:"duplicates"`
	Dropped    uint64 `json:"dropped"`
	Skipped    uint64 `json:"skipped"`
}

// NewJitterBuffer sizes a buffer. target is the depth that starts playout,
// depthCap the hard bound above which the oldest frame is evicted, interval
// the playout pace, gapTimeout how long a missing sequence stalls the
// cursor before being skipped.
func NewJitterBuffer(target, depthCap int, interval, gapTimeout time.Duration) *JitterBuffer {
	if target < 1 {
		target = 1
	}
	if depthCap < target {
		depthCap = target
	}
	return &JitterBuffer{
		target:     target,
		depthCap:   depthCap,
		interval:   interval,
		gapTimeout: gapTimeout,
	}
}

// Insert files a frame at its sequence position. Duplicates and frames
// behind the playout cursor are dropped. If the insert pushes depth past
// the cap, the oldest buffered frame is evicted.
func (b *JitterBuffer) Insert(f *media.EncodedFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.received++

	if b.state == StatePlaying && f.Seq < b.next {
		b.dropped++
		return
	}

	i := sort.Search(len(b.frames), func(i int) bool { return b.frames[i].Seq >= f.Seq })
	if i < len(b.frames) && b.frames[i].Seq == f.Seq {
		b.duplicates++
		return
	}

	b.frames = append(b.frames, nil)
	copy(b.frames[i+1:], b.frames[i:])
	b.frames[i] = f

	for len(b.frames) > b.depthCap {
		n := copy(b.frames, b.frames[1:])
		b.frames[n] = nil
		b.frames = b.frames[:n]
		b.dropped++
	}
}

// Pop returns the next frame due at now, or nil when nothing is due yet.
// The first call that finds the buffer at target depth flips it to playing
// and starts the cursor at the oldest buffered sequence.
func (b *JitterBuffer) Pop(now time.Time) *media.EncodedFrame {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateBuffering {
		if len(b.frames) < b.target {
			return nil
		}
		b.state = StatePlaying
		b.next = b.frames[0].Seq
	}

	if !b.lastPop.IsZero() && now.Before(b.lastPop.Add(b.interval)) {
		return nil
	}
	if len(b.frames) == 0 {
		b.gapSince = time.Time{}
		return nil
	}

	head := b.frames[0]
	if head.Seq > b.next {
		if b.gapSince.IsZero() {
			b.gapSince = now
			return nil
		}
		if now.Sub(b.gapSince) < b.gapTimeout {
			return nil
		}
		b.skipped += head.Seq - b.next
		b.next = head.Seq
	}
	b.gapSince = time.Time{}

	b.frames[0] = nil
	b.frames = b.frames[1:]
	b.next = head.Seq + 1

	// Pace on an absolute grid so one late tick does not push every later
	// release back. Snap to now when more than an interval behind.
	due := b.lastPop.Add(b.interval)
	if b.lastPop.IsZero() || now.Sub(due) > b.interval {
		due = now
	}
	b.lastPop = due
	return head
}

// State reports the current playout phase.
func (b *JitterBuffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Depth reports how many frames are buffered.
func (b *JitterBuffer) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Stats snapshots the buffer counters.
func (b *JitterBuffer) Stats() JitterStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return JitterStats{
		State:      b.state.String(),
		Depth:      len(b.frames),
		Received:   b.received,
		Duplicates: b.duplicates,
		Dropped:    b.dropped,
		Skipped:    b.skipped,
	}
}
