package timectrl

import (
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. Components that
// need "now" (the fusion adapter's observation timestamps, quote and
// reservation expiry) depend on this abstraction rather than the wall clock,
// enabling deterministic tests that advance virtual time without sleeping.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// WallClock is a SimClock backed by the system clock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// VirtualClock decouples simulation time from wall-clock pacing. It advances
// by real-elapsed durations multiplied by a settable scale factor, so a
// driver loop running at wall-clock rate can make simulated demand curves run
// faster or slower than real time.
type VirtualClock struct {
	mu      sync.RWMutex
	current time.Time
	scale   float64
}

// NewVirtualClock constructs a clock positioned at start with scale 1.0.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{current: start, scale: 1.0}
}

// Now returns the current simulation time. Implements SimClock.
func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Scale returns the current time-scale factor.
func (c *VirtualClock) Scale() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scale
}

// SetScale changes the time-scale factor. Values <= 0 are ignored.
func (c *VirtualClock) SetScale(scale float64) {
	if scale <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scale = scale
}

// Advance moves simulation time forward by realElapsed scaled by the current
// factor and returns the new simulation time.
func (c *VirtualClock) Advance(realElapsed time.Duration) time.Time {
	if realElapsed < 0 {
		realElapsed = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	scaled := time.Duration(float64(realElapsed) * c.scale)
	c.current = c.current.Add(scaled)
	return c.current
}

// ManualClock is a SimClock whose time only moves when told to. Used by tests
// that need to cross quote or reservation expiry deadlines instantly.
type ManualClock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewManualClock constructs a manual clock positioned at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{current: start}
}

// Now returns the current simulation time. Implements SimClock.
func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Set repositions the clock.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}
