// Package quality adapts a session's encoding profile to observed send
// pressure. Sends that keep missing the per-frame time budget step the
// profile down; sends that stay comfortably inside it step the profile back
// up. Frame cadence is never touched: the ladder trades quality first, then
// resolution, in both directions.
package quality

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/The404Studios/Yurt-Cord-sub006/config"
	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

// State is the controller's adaptation phase.
type State int32

const (
	StateNominal State = iota
	StateDegrading
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateNominal:
		return "nominal"
	case StateDegrading:
		return "degrading"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// Resolution rungs below native, as fractions of the initial dimensions.
// Native 1080p walks 1080 → 720 → 480.
var resolutionFractions = []float64{1, 2.0 / 3, 4.0 / 9}

type resolution struct {
	width  int
	height int
}

// Controller owns the profile snapshot for one session. Observe is called
// by the send loop only; Profile and State are safe from any goroutine.
type Controller struct {
	log *slog.Logger

	slowBudget time.Duration // above this a send counts against the profile
	fastBudget time.Duration // below this a send counts toward recovery

	degradeWindow int
	recoverWindow int

	ladder  []int // descending quality rungs
	initial media.Profile
	rungs   []resolution

	profile atomic.Pointer[media.Profile]
	state   atomic.Int32

	slowRun int
	fastRun int
	resIdx  int

	stepsDown atomic.Int64
	stepsUp   atomic.Int64
}

// NewController starts at the initial profile for the given capture
// dimensions and encoder kind.
func NewController(cfg config.Config, width, height int, kind media.EncoderKind, log *slog.Logger) *Controller {
	interval := cfg.FrameInterval()
	c := &Controller{
		log:           log.With("component", "quality"),
		slowBudget:    time.Duration(float64(interval) * cfg.BudgetFactor),
		fastBudget:    time.Duration(float64(interval) * cfg.RecoverFactor),
		degradeWindow: cfg.DegradeWindow,
		recoverWindow: cfg.RecoverWindow,
		ladder:        cfg.QualityLadder,
		rungs:         resolutionRungs(width, height),
	}
	c.initial = media.Profile{
		Width:       width,
		Height:      height,
		Quality:     cfg.InitialQuality,
		BitrateKbps: cfg.HardwareBitrateKbps,
		Kind:        kind,
	}
	p := c.initial
	c.profile.Store(&p)
	return c
}

// Profile returns the current snapshot. Encode loops read one per frame.
func (c *Controller) Profile() media.Profile {
	return *c.profile.Load()
}

// State returns the adaptation phase.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Steps returns the lifetime count of downward and upward steps.
func (c *Controller) Steps() (down, up int64) {
	return c.stepsDown.Load(), c.stepsUp.Load()
}

// Observe feeds one frame's send duration into the state machine. At most
// one profile step happens per full window; every step resets both runs.
func (c *Controller) Observe(sendDuration time.Duration) {
	switch {
	case sendDuration > c.slowBudget:
		c.fastRun = 0
		c.slowRun++
		if c.slowRun >= c.degradeWindow {
			c.stepDown()
			c.slowRun, c.fastRun = 0, 0
		}
	case sendDuration < c.fastBudget:
		c.slowRun = 0
		if c.atInitial() {
			c.fastRun = 0
			return
		}
		c.fastRun++
		if c.fastRun >= c.recoverWindow {
			c.stepUp()
			c.slowRun, c.fastRun = 0, 0
		}
	default:
		c.slowRun, c.fastRun = 0, 0
	}
}

func (c *Controller) atInitial() bool {
	p := c.profile.Load()
	return c.resIdx == 0 && p.Quality == c.initial.Quality
}

// stepDown lowers exactly one rung: quality until the ladder floor, then
// resolution. At the full floor the profile stays put.
func (c *Controller) stepDown() {
	p := *c.profile.Load()

	if q, ok := nextQualityDown(c.ladder, p.Quality); ok {
		p.Quality = q
	} else if c.resIdx+1 < len(c.rungs) {
		c.resIdx++
		p.Width = c.rungs[c.resIdx].width
		p.Height = c.rungs[c.resIdx].height
	} else {
		return
	}

	c.state.Store(int32(StateDegrading))
	c.stepsDown.Add(1)
	c.profile.Store(&p)
	c.log.Warn("profile stepped down",
		"quality", p.Quality,
		"resolution", p.Resolution(),
	)
}

// stepUp raises exactly one rung: resolution back toward native first, then
// quality toward the initial value.
func (c *Controller) stepUp() {
	p := *c.profile.Load()

	if c.resIdx > 0 {
		c.resIdx--
		p.Width = c.rungs[c.resIdx].width
		p.Height = c.rungs[c.resIdx].height
	} else if q, ok := nextQualityUp(c.ladder, p.Quality, c.initial.Quality); ok {
		p.Quality = q
	} else {
		return
	}

	c.stepsUp.Add(1)
	c.profile.Store(&p)

	if c.resIdx == 0 && p.Quality == c.initial.Quality {
		c.state.Store(int32(StateNominal))
	} else {
		c.state.Store(int32(StateRecovering))
	}
	c.log.Info("profile stepped up",
		"quality", p.Quality,
		"resolution", p.Resolution(),
		"state", c.State().String(),
	)
}

// nextQualityDown picks the largest ladder rung strictly below current.
func nextQualityDown(ladder []int, current int) (int, bool) {
	for _, q := range ladder {
		if q < current {
			return q, true
		}
	}
	return 0, false
}

// nextQualityUp picks the smallest ladder rung strictly above current,
// clamped to the initial quality.
func nextQualityUp(ladder []int, current, ceiling int) (int, bool) {
	for i := len(ladder) - 1; i >= 0; i-- {
		if ladder[i] > current {
			q := min(ladder[i], ceiling)
			if q > current {
				return q, true
			}
			return 0, false
		}
	}
	return 0, false
}

func resolutionRungs(width, height int) []resolution {
	rungs := make([]resolution, 0, len(resolutionFractions))
	for _, f := range resolutionFractions {
		rungs = append(rungs, resolution{
			width:  evenRound(float64(width) * f),
			height: evenRound(float64(height) * f),
		})
	}
	return rungs
}

// evenRound rounds to the nearest even value, which keeps scaled
// dimensions friendly to 4:2:0 codecs. Never returns below 16.
func evenRound(v float64) int {
	r := int(v + 0.5)
	if r%2 != 0 {
		r++
	}
	if r < 16 {
		r = 16
	}
	return r
}
