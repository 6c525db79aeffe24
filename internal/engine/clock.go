package engine

import "sync/atomic"

// Clock is a monotonic logical clock stamping mutations in dispatch order.
//
// Every mutation is stamped with a strictly increasing seq at Submit, before
// it is queued. This gives:
//   - a total order of mutations independent of wall time
//   - journal rows that sort the same way on every read
//   - an ordering key for "later mutation" when settlements race
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// Submit may be called from any goroutine, so unlike the state this is not
// confined to the Run loop.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after start, for engines hydrated
// from a journal. The first Next returns start+1, so seqs stay unique
// across processes sharing one database.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable: each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
// A snapshot saved after a mutation records this as its seq.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
