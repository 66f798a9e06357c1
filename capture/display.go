package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbinani/screenshot"

	"github.com/The404Studios/Yurt-Cord-sub006/config"
	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

var displayLog = slog.With("component", "capture")

// DisplaySource captures one physical display at a fixed cadence. The loop
// pins its OS thread; several capture backends keep thread-affine state.
type DisplaySource struct {
	display   int
	bounds    image.Rectangle
	interval  time.Duration
	tolerance time.Duration
	mailbox   *Mailbox

	started atomic.Bool
	stop    sync.Once

	skipped atomic.Uint64
}

var _ Source = (*DisplaySource)(nil)

// NewDisplaySource resolves the configured display's bounds. Fails when the
// display index does not exist, which also covers headless hosts.
func NewDisplaySource(cfg config.Config) (*DisplaySource, error) {
	n := screenshot.NumActiveDisplays()
	if cfg.Display < 0 || cfg.Display >= n {
		return nil, fmt.Errorf("capture: display %d not available (%d active)", cfg.Display, n)
	}
	return &DisplaySource{
		display:   cfg.Display,
		bounds:    screenshot.GetDisplayBounds(cfg.Display),
		interval:  cfg.FrameInterval(),
		tolerance: cfg.CaptureTolerance,
		mailbox:   NewMailbox(),
	}, nil
}

func (s *DisplaySource) Frames() *Mailbox { return s.mailbox }

func (s *DisplaySource) Bounds() (int, int) {
	return s.bounds.Dx(), s.bounds.Dy()
}

// Skipped reports ticks abandoned because the loop fell behind schedule.
func (s *DisplaySource) Skipped() uint64 {
	return s.skipped.Load()
}

func (s *DisplaySource) Stop() {
	s.stop.Do(s.mailbox.Close)
}

// Start runs the capture loop until ctx is cancelled or a grab fails.
// Cancellation returns nil; a grab failure is fatal to the session.
func (s *DisplaySource) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer s.Stop()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	displayLog.Info("capture started",
		"display", s.display,
		"width", s.bounds.Dx(),
		"height", s.bounds.Dy(),
		"interval", s.interval,
	)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	sched := newSchedule(time.Now(), s.interval, s.tolerance)
	var seq uint64
	for n := 0; ; n++ {
		if due := sched.dueTick(n, time.Now()); due != n {
			s.skipped.Add(uint64(due - n))
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

		img, err := screenshot.CaptureRect(s.bounds)
		if err != nil {
			return fmt.Errorf("capture: display %d: %w", s.display, err)
		}
		seq++
		s.mailbox.Put(media.FromRGBA(img, seq, time.Now()))
	}
}
