package testutil

import (
	"sync"
	"time"
)

// ManualClock is a wall clock for tests that only moves when told to.
//
// With a non-zero step, every Now call advances the clock by step after
// reading it, so consecutive timestamps are distinct and predictable. This
// lets scenarios assert strict before/after relations (edge created_at vs.
// upstream updated_at) without sleeping.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewManualClock creates a clock reading start, advancing step per read.
func NewManualClock(start time.Time, step time.Duration) *ManualClock {
	return &ManualClock{now: start.UTC(), step: step}
}

// Now returns the current time and applies the auto-step.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the current time without stepping.
func (c *ManualClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
