package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

// SyntheticSource generates a scrolling gradient at the display source's
// cadence. It backs tests, the loopback example, and load simulation, and
// doubles as the reference Source implementation.
type SyntheticSource struct {
	width     int
	height    int
	interval  time.Duration
	tolerance time.Duration
	mailbox   *Mailbox

	started atomic.Bool
	stop    sync.Once
}

var _ Source = (*SyntheticSource)(nil)

func NewSyntheticSource(width, height, fps int) *SyntheticSource {
	return &SyntheticSource{
		width:     width,
		height:    height,
		interval:  time.Second / time.Duration(fps),
		tolerance: 500 * time.Microsecond,
		mailbox:   NewMailbox(),
	}
}

func (s *SyntheticSource) Frames() *Mailbox { return s.mailbox }

func (s *SyntheticSource) Bounds() (int, int) { return s.width, s.height }

func (s *SyntheticSource) Stop() {
	s.stop.Do(s.mailbox.Close)
}

func (s *SyntheticSource) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer s.Stop()

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	sched := newSchedule(time.Now(), s.interval, s.tolerance)
	var seq uint64
	for n := 0; ; n++ {
		if due := sched.dueTick(n, time.Now()); due != n {
			n = due
		}
		if wait := time.Until(sched.deadline(n)); wait > s.tolerance {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
			}
		}
		seq++
		s.mailbox.Put(s.render(seq))
	}
}

// render paints frame seq of the gradient. Every pixel moves each frame, so
// downstream motion detection always sees change.
func (s *SyntheticSource) render(seq uint64) *media.Bitmap {
	stride := s.width * 4
	data := make([]byte, stride*s.height)
	shift := int(seq * 3)
	for y := 0; y < s.height; y++ {
		row := data[y*stride:]
		for x := 0; x < s.width; x++ {
			p := row[x*4:]
			p[0] = byte(x + shift)
			p[1] = byte(y + shift)
			p[2] = byte(x ^ y)
			p[3] = 0xff
		}
	}
	return &media.Bitmap{
		Data:       data,
		Width:      s.width,
		Height:     s.height,
		Stride:     stride,
		CapturedAt: time.Now(),
		Seq:        seq,
	}
}
