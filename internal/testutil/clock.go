// Package testutil provides shared test fixtures for the execution core.
package testutil

import (
	"sync"
	"time"
)

// FakeClock is a thread-safe manual time source for tests.
//
// Components that accept a `now func() time.Time` (the lock service, the
// guardrail tracker) take clk.Now, and tests advance time explicitly
// instead of sleeping. This makes TTL and cooldown tests instant and
// deterministic.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock fixed at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake instant. Pass the method value as the
// component's time source.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to an absolute instant.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
