// Package clock provides an overridable time source, so anything driven
// by wall-clock time in a simulation run — retry timers, event timestamps
// — can be tested deterministically instead of racing the real clock.
package clock

import "time"

// Clock produces the current time. A zero-value or nil Clock reports the
// real system time, the same as one built by New.
type Clock struct {
	nowFn func() time.Time
}

// New creates a Clock backed by the real system clock.
func New() *Clock {
	return &Clock{nowFn: time.Now}
}

// NewFixed creates a Clock that always reports t, for tests that need a
// stable timestamp rather than a moving one.
func NewFixed(t time.Time) *Clock {
	return &Clock{nowFn: func() time.Time { return t }}
}

// Now returns the current time per this Clock's source.
func (c *Clock) Now() time.Time {
	if c == nil || c.nowFn == nil {
		return time.Now()
	}
	return c.nowFn()
}
