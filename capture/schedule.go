package capture

import "time"

// schedule computes drift-free tick deadlines anchored at the loop start.
// Deadlines are absolute (start + n*interval) so per-tick jitter never
// accumulates into clock drift.
type schedule struct {
	start     time.Time
	interval  time.Duration
	tolerance time.Duration
}

func newSchedule(start time.Time, interval, tolerance time.Duration) schedule {
	return schedule{start: start, interval: interval, tolerance: tolerance}
}

func (s schedule) deadline(n int) time.Time {
	return s.start.Add(time.Duration(n) * s.interval)
}

// dueTick returns the first tick at or after n whose deadline has not
// already passed by more than the tolerance. A loop that wakes late skips
// the missed ticks instead of capturing a catch-up burst.
func (s schedule) dueTick(n int, now time.Time) int {
	late := now.Sub(s.deadline(n))
	if late <= s.tolerance {
		return n
	}
	elapsed := now.Sub(s.start) - s.tolerance
	next := int((elapsed + s.interval - 1) / s.interval)
	if next <= n {
		next = n + 1
	}
	return next
}
