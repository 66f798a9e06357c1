package quality

import (
	"log/slog"
	"testing"
	"time"

	"github.com/The404Studios/Yurt-Cord-sub006/config"
	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

func testController(t *testing.T) (*Controller, config.Config) {
	t.Helper()
	cfg := config.Default()
	log := slog.New(slog.DiscardHandler)
	return NewController(cfg, 1280, 720, media.EncoderSoftware, log), cfg
}

func slowFrame(cfg config.Config) time.Duration {
	return time.Duration(float64(cfg.FrameInterval()) * 1.5)
}

func fastFrame(cfg config.Config) time.Duration {
	return cfg.FrameInterval() / 4
}

func observeN(c *Controller, d time.Duration, n int) {
	for i := 0; i < n; i++ {
		c.Observe(d)
	}
}

func TestControllerStartsNominal(t *testing.T) {
	t.Parallel()
	c, cfg := testController(t)

	p := c.Profile()
	if p.Width != 1280 || p.Height != 720 {
		t.Fatalf("initial resolution = %s, want 1280x720", p.Resolution())
	}
	if p.Quality != cfg.InitialQuality {
		t.Errorf("initial quality = %d, want %d", p.Quality, cfg.InitialQuality)
	}
	if got := c.State(); got != StateNominal {
		t.Errorf("initial state = %v, want %v", got, StateNominal)
	}
}

func TestDegradeDropsQualityOneRung(t *testing.T) {
	t.Parallel()
	c, cfg := testController(t)

	observeN(c, slowFrame(cfg), cfg.DegradeWindow)

	p := c.Profile()
	if p.Quality != 75 {
		t.Errorf("quality after one window = %d, want 75", p.Quality)
	}
	if p.Width != 1280 || p.Height != 720 {
		t.Errorf("resolution changed to %s, want 1280x720 untouched", p.Resolution())
	}
	if got := c.State(); got != StateDegrading {
		t.Errorf("state = %v, want %v", got, StateDegrading)
	}
	if down, _ := c.Steps(); down != 1 {
		t.Errorf("steps down = %d, want 1", down)
	}
}

func TestDegradeNeedsFullWindowBetweenSteps(t *testing.T) {
	t.Parallel()
	c, cfg := testController(t)

	observeN(c, slowFrame(cfg), cfg.DegradeWindow)
	observeN(c, slowFrame(cfg), cfg.DegradeWindow-1)
	if got := c.Profile().Quality; got != 75 {
		t.Fatalf("quality before second window completes = %d, want 75", got)
	}

	c.Observe(slowFrame(cfg))
	if got := c.Profile().Quality; got != 60 {
		t.Errorf("quality after second window = %d, want 60", got)
	}
}

func TestDegradeWalksQualityThenResolution(t *testing.T) {
	t.Parallel()
	c, cfg := testController(t)

	want := []media.Profile{
		{Width: 1280, Height: 720, Quality: 75},
		{Width: 1280, Height: 720, Quality: 60},
		{Width: 1280, Height: 720, Quality: 45},
		{Width: 854, Height: 480, Quality: 45},
		{Width: 570, Height: 320, Quality: 45},
	}
	for i, w := range want {
		observeN(c, slowFrame(cfg), cfg.DegradeWindow)
		p := c.Profile()
		if p.Quality != w.Quality || p.Width != w.Width || p.Height != w.Height {
			t.Fatalf("step %d: profile = %s q%d, want %s q%d",
				i+1, p.Resolution(), p.Quality, w.Resolution(), w.Quality)
		}
	}
}

func TestEachStepChangesExactlyOneField(t *testing.T) {
	t.Parallel()
	c, cfg := testController(t)

	prev := c.Profile()
	for i := 0; i < 5; i++ {
		observeN(c, slowFrame(cfg), cfg.DegradeWindow)
		p := c.Profile()
		qualityMoved := p.Quality != prev.Quality
		resolutionMoved := p.Width != prev.Width || p.Height != prev.Height
		if qualityMoved == resolutionMoved {
			t.Fatalf("step %d: quality %d->%d and resolution %s->%s, want exactly one to move",
				i+1, prev.Quality, p.Quality, prev.Resolution(), p.Resolution())
		}
		prev = p
	}
}

func TestFloorHoldsUnderSustainedPressure(t *testing.T) {
	t.Parallel()
	c, cfg := testController(t)

	observeN(c, slowFrame(cfg), cfg.DegradeWindow*8)

	p := c.Profile()
	if p.Quality != 45 || p.Width != 570 || p.Height != 320 {
		t.Errorf("floor profile = %s q%d, want 570x320 q45", p.Resolution(), p.Quality)
	}
	if down, _ := c.Steps(); down != 5 {
		t.Errorf("steps down = %d, want 5", down)
	}
}

func TestNeutralFrameResetsSlowRun(t *testing.T) {
	t.Parallel()
	c, cfg := testController(t)

	neutral := time.Duration(float64(cfg.FrameInterval()) * 0.7)
	observeN(c, slowFrame(cfg), cfg.DegradeWindow-1)
	c.Observe(neutral)
	observeN(c, slowFrame(cfg), cfg.DegradeWindow-1)

	if got := c.Profile().Quality; got != 80 {
		t.Errorf("quality = %d after interrupted runs, want 80", got)
	}

	c.Observe(slowFrame(cfg))
	if got := c.Profile().Quality; got != 75 {
		t.Errorf("quality = %d after fresh full window, want 75", got)
	}
}

func TestFastFrameResetsSlowRun(t *testing.T) {
	t.Parallel()
	c, cfg := testController(t)

	observeN(c, slowFrame(cfg), cfg.DegradeWindow-1)
	c.Observe(fastFrame(cfg))
	observeN(c, slowFrame(cfg), cfg.DegradeWindow-1)

	if got := c.Profile().Quality; got != 80 {
		t.Errorf("quality = %d after interrupted run, want 80", got)
	}
}

func TestRecoveryRaisesQualityTowardInitial(t *testing.T) {
	t.Parallel()
	c, cfg := testController(t)

	observeN(c, slowFrame(cfg), cfg.DegradeWindow*2) // 80 -> 75 -> 60

	observeN(c, fastFrame(cfg), cfg.RecoverWindow)
	if got := c.Profile().Quality; got != 75 {
		t.Fatalf("quality after first recovery window = %d, want 75", got)
	}
	if got := c.State(); got != StateRecovering {
		t.Errorf("state = %v, want %v", got, StateRecovering)
	}

	observeN(c, fastFrame(cfg), cfg.RecoverWindow)
	if got := c.Profile().Quality; got != 80 {
		t.Errorf("quality after second recovery window = %d, want initial 80", got)
	}
	if got := c.State(); got != StateNominal {
		t.Errorf("state back at initial = %v, want %v", got, StateNominal)
	}
}

func TestRecoveryRestoresResolutionBeforeQuality(t *testing.T) {
	t.Parallel()
	c, cfg := testController(t)

	observeN(c, slowFrame(cfg), cfg.DegradeWindow*4) // down to 854x480 q45

	observeN(c, fastFrame(cfg), cfg.RecoverWindow)
	p := c.Profile()
	if p.Width != 1280 || p.Height != 720 {
		t.Errorf("resolution after recovery step = %s, want 1280x720 first", p.Resolution())
	}
	if p.Quality != 45 {
		t.Errorf("quality moved to %d during resolution recovery, want 45", p.Quality)
	}
}

func TestRecoveryNeverExceedsInitialQuality(t *testing.T) {
	t.Parallel()
	c, cfg := testController(t)

	// 80 -> 75, then back to 80; further fast windows find no rung above.
	observeN(c, slowFrame(cfg), cfg.DegradeWindow)
	observeN(c, fastFrame(cfg), cfg.RecoverWindow)
	observeN(c, fastFrame(cfg), cfg.RecoverWindow*3)

	p := c.Profile()
	if p.Quality != 80 {
		t.Errorf("quality = %d, want capped at initial 80", p.Quality)
	}
	if _, up := c.Steps(); up != 1 {
		t.Errorf("steps up = %d, want 1", up)
	}
	if got := c.State(); got != StateNominal {
		t.Errorf("state = %v, want %v", got, StateNominal)
	}
}

func TestStateStrings(t *testing.T) {
	t.Parallel()
	cases := []struct {
		state State
		want  string
	}{
		{StateNominal, "nominal"},
		{StateDegrading, "degrading"},
		{StateRecovering, "recovering"},
		{State(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
