// Package clocktest provides a manual clock for deterministic expiry tests.
package clocktest

import (
	"sync"
	"time"
)

// Clock only moves when told to. After advances the clock by d and returns
// an already-fired channel, so polling loops run without real sleeps.
type Clock struct {
	mu  sync.Mutex
	now time.Time

	// OnAfter, if set, runs after each After call with the new time.
	OnAfter func(now time.Time)
}

func New(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	return now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *Clock) After(d time.Duration) <-chan time.Time {
	now := c.Advance(d)
	if c.OnAfter != nil {
		c.OnAfter(now)
	}
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}
