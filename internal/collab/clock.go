package collab

import "sync/atomic"

// Clock is a room's logical clock. Every persisted update is stamped with a
// strictly increasing value from it.
//
// Only the room goroutine advances the clock; reads from other goroutines
// (status endpoints) are safe.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock resuming after start, the highest value found
// in the durable store.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Peek returns the value the next call to Next will return.
func (c *Clock) Peek() int64 {
	return c.seq.Load() + 1
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
