package testutil

import (
	"sync"
	"time"
)

// Epoch is the fixed instant deterministic tests and scenarios start from.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Clock is a deterministic time source. Each call to Now returns the
// current instant and then advances it by step, so a step of zero yields a
// frozen clock.
//
// Thread-safety: all methods are safe for concurrent use.
type Clock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
	ticks int64
}

// NewClock creates a clock starting at start.
func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{start: start, now: start, step: step}
}

// FrozenClock creates a clock that always reports Epoch.
func FrozenClock() *Clock {
	return NewClock(Epoch, 0)
}

// Now returns the current instant and advances the clock.
// Its signature matches the now-function options of the engine, the query
// cache and the memory server.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	c.ticks++
	return t
}

// Peek returns the instant the next Now will report, without advancing.
func (c *Clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Ticks returns how many times Now has been called.
func (c *Clock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock to its start.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
	c.ticks = 0
}
