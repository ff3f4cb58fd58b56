package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a ManualClock.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// ManualClock is a wall clock that only moves when told to.
//
// Every call to Now returns the current time and then advances it by Step,
// so successive timestamps are distinct and reproducible. Advance moves the
// clock explicitly, e.g. past a lock lease.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewManualClock creates a clock at Epoch that ticks one millisecond per
// call to Now.
func NewManualClock() *ManualClock {
	return &ManualClock{now: Epoch, step: time.Millisecond}
}

// NewFrozenClock creates a clock at t that never ticks on its own.
func NewFrozenClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// Now returns the current time and advances the clock by its step.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the current time without advancing.
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

// Reset moves the clock back to Epoch.
//
// Used for test reuse: after Reset the same scenario yields the same
// timestamps.
func (c *ManualClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}
