package testutil

import (
	"sync"
	"time"
)

// Clock is a manually advanced time source for tests.
// Example:
//
//	clk := NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
//	store := session.NewStore(func(o *session.Options) { o.Now = clk.Now })
//	clk.Advance(25 * time.Hour)
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}
