package playback

import (
	"testing"
	"time"

	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

const (
	testInterval   = 10 * time.Millisecond
	testGapTimeout = 30 * time.Millisecond
)

func jitterFrame(seq uint64) *media.EncodedFrame {
	return &media.EncodedFrame{Seq: seq, Codec: media.CodecJPEG}
}

func TestJitterBuffersUntilTarget(t *testing.T) {
	t.Parallel()
	b := NewJitterBuffer(3, 45, testInterval, testGapTimeout)
	now := time.Now()

	b.Insert(jitterFrame(1))
	b.Insert(jitterFrame(2))
	if f := b.Pop(now); f != nil {
		t.Fatalf("Pop below target = seq %d, want nil", f.Seq)
	}
	if got := b.State(); got != StateBuffering {
		t.Fatalf("state = %v, want %v", got, StateBuffering)
	}

	b.Insert(jitterFrame(3))
	f := b.Pop(now)
	if f == nil || f.Seq != 1 {
		t.Fatalf("Pop at target = %+v, want seq 1", f)
	}
	if got := b.State(); got != StatePlaying {
		t.Fatalf("state = %v, want %v", got, StatePlaying)
	}
}

func TestJitterReordersArrivals(t *testing.T) {
	t.Parallel()
	b := NewJitterBuffer(5, 45, testInterval, testGapTimeout)
	now := time.Now()

	for _, seq := range []uint64{3, 1, 2, 5} {
		b.Insert(jitterFrame(seq))
		if f := b.Pop(now); f != nil {
			t.Fatalf("Pop before target = seq %d, want nil", f.Seq)
		}
	}
	b.Insert(jitterFrame(4))

	for want := uint64(1); want <= 5; want++ {
		f := b.Pop(now)
		if f == nil || f.Seq != want {
			t.Fatalf("Pop = %+v, want seq %d", f, want)
		}
		now = now.Add(testInterval)
	}
	if f := b.Pop(now); f != nil {
		t.Fatalf("Pop of drained buffer = seq %d, want nil", f.Seq)
	}
}

func TestJitterPacesReleases(t *testing.T) {
	t.Parallel()
	b := NewJitterBuffer(1, 45, testInterval, testGapTimeout)
	now := time.Now()

	b.Insert(jitterFrame(1))
	b.Insert(jitterFrame(2))
	if f := b.Pop(now); f == nil || f.Seq != 1 {
		t.Fatalf("first Pop = %+v, want seq 1", f)
	}
	if f := b.Pop(now); f != nil {
		t.Fatalf("Pop at same instant = seq %d, want nil", f.Seq)
	}
	if f := b.Pop(now.Add(testInterval / 2)); f != nil {
		t.Fatalf("Pop mid-interval = seq %d, want nil", f.Seq)
	}
	if f := b.Pop(now.Add(testInterval)); f == nil || f.Seq != 2 {
		t.Fatalf("Pop after interval = %+v, want seq 2", f)
	}
}

func TestJitterStrictlyIncreasingForAnyArrivalOrder(t *testing.T) {
	t.Parallel()
	arrivals := [][]uint64{
		{3, 1, 2, 5, 4, 8, 6, 7},
		{8, 7, 6, 5, 4, 3, 2, 1},
		{1, 2, 3, 4, 5, 6, 7, 8},
		{2, 4, 6, 8, 1, 3, 5, 7},
	}
	for _, order := range arrivals {
		b := NewJitterBuffer(4, 45, testInterval, time.Second)
		now := time.Now()

		var released []uint64
		for i, seq := range order {
			b.Insert(jitterFrame(seq))
			if i < 3 {
				continue
			}
			if f := b.Pop(now); f != nil {
				released = append(released, f.Seq)
				now = now.Add(testInterval)
			}
		}
		for b.Depth() > 0 {
			f := b.Pop(now)
			now = now.Add(testInterval)
			if f == nil {
				break
			}
			released = append(released, f.Seq)
		}

		for i := 1; i < len(released); i++ {
			if released[i] <= released[i-1] {
				t.Fatalf("arrivals %v released %v: not strictly increasing", order, released)
			}
		}
		if len(released) == 0 {
			t.Fatalf("arrivals %v released nothing", order)
		}
	}
}

func TestJitterSkipsMissingSeqAfterGapTimeout(t *testing.T) {
	t.Parallel()
	b := NewJitterBuffer(1, 45, testInterval, testGapTimeout)
	now := time.Now()

	b.Insert(jitterFrame(1))
	if f := b.Pop(now); f == nil || f.Seq != 1 {
		t.Fatalf("first Pop = %+v, want seq 1", f)
	}

	// Seq 2 never arrives. The cursor stalls on it for the gap timeout,
	// then jumps to the oldest buffered frame.
	b.Insert(jitterFrame(3))
	for _, wait := range []time.Duration{1, 2, 3} {
		if f := b.Pop(now.Add(wait * testInterval)); f != nil {
			t.Fatalf("Pop during gap wait = seq %d, want nil", f.Seq)
		}
	}
	f := b.Pop(now.Add(4 * testInterval))
	if f == nil || f.Seq != 3 {
		t.Fatalf("Pop after gap timeout = %+v, want seq 3", f)
	}
	if got := b.Stats().Skipped; got != 1 {
		t.Errorf("skipped = %d, want 1", got)
	}
}

func TestJitterDepthNeverExceedsCap(t *testing.T) {
	t.Parallel()
	b := NewJitterBuffer(5, 10, testInterval, testGapTimeout)

	for seq := uint64(1); seq <= 15; seq++ {
		b.Insert(jitterFrame(seq))
		if d := b.Depth(); d > 10 {
			t.Fatalf("depth %d after seq %d, cap is 10", d, seq)
		}
	}
	if got := b.Stats().Dropped; got != 5 {
		t.Fatalf("dropped = %d, want 5", got)
	}

	// The five oldest were evicted, so playout starts at seq 6.
	f := b.Pop(time.Now())
	if f == nil || f.Seq != 6 {
		t.Fatalf("Pop after overflow = %+v, want seq 6", f)
	}
}

func TestJitterDropsDuplicates(t *testing.T) {
	t.Parallel()
	b := NewJitterBuffer(5, 45, testInterval, testGapTimeout)

	b.Insert(jitterFrame(1))
	b.Insert(jitterFrame(2))
	b.Insert(jitterFrame(1))
	stats := b.Stats()
	if stats.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", stats.Duplicates)
	}
	if stats.Depth != 2 {
		t.Errorf("depth = %d, want 2", stats.Depth)
	}
}

func TestJitterDropsFramesBehindCursor(t *testing.T) {
	t.Parallel()
	b := NewJitterBuffer(1, 45, testInterval, testGapTimeout)
	now := time.Now()

	b.Insert(jitterFrame(5))
	if f := b.Pop(now); f == nil || f.Seq != 5 {
		t.Fatalf("Pop = %+v, want seq 5", f)
	}

	b.Insert(jitterFrame(3))
	if got := b.Stats().Dropped; got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
	if got := b.Depth(); got != 0 {
		t.Errorf("depth = %d, want 0", got)
	}
}

func TestJitterStateStrings(t *testing.T) {
	t.Parallel()
	cases := []struct {
		state State
		want  string
	}{
		{StateBuffering, "buffering"},
		{StatePlaying, "playing"},
		{State(9), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
