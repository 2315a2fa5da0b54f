package trace

import "sync/atomic"

// Stamper hands out event sequence numbers.
// *Clock and testutil.StampLog implement it.
type Stamper interface {
	Next() int64
}

// Clock is a monotonic logical clock for event ordering.
//
// Every recorded event is stamped with a strictly increasing seq number, so
// the order of a trace never depends on wall-clock resolution.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0. The first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at start.
// Used to append to a run journal after its last recorded event.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last sequence number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
