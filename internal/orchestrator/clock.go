package orchestrator

import "sync/atomic"

// Sequencer stamps journal transitions with increasing sequence numbers.
// Implemented by Clock; tests may substitute a deterministic one.
type Sequencer interface {
	Next() int64
}

// Clock is a monotonic logical clock. Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start, so a reopened
// journal keeps increasing.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the clock without incrementing it.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
