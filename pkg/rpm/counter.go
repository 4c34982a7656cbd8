// Package rpm derives shaft speed from hall sensor edges.
package rpm

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultMagnets is the number of magnets on the reference rotor bell.
	DefaultMagnets = 8
	// DefaultInterval is the recompute period.
	DefaultInterval = time.Second
)

// ErrInvalidMagnets is returned for a non-positive magnets-per-revolution count.
var ErrInvalidMagnets = errors.New("magnets per revolution must be positive")

// Counter accumulates hall edges and turns them into RPM once per interval.
//
// OnEdge may be called from an interrupt handler or any goroutine. The
// periodic side (Update, Recompute) belongs to the control loop.
type Counter struct {
	edges    atomic.Uint32
	magnets  float64
	interval time.Duration

	mu   sync.RWMutex
	last time.Time
	rpm  float64
}

// New creates a Counter for the given magnets-per-revolution and interval.
func New(magnets int, interval time.Duration) (*Counter, error) {
	if magnets <= 0 {
		return nil, ErrInvalidMagnets
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Counter{
		magnets:  float64(magnets),
		interval: interval,
	}, nil
}

// OnEdge records one falling edge.
func (c *Counter) OnEdge() {
	c.edges.Add(1)
}

// Start sets the reference time for the first interval.
func (c *Counter) Start(now time.Time) {
	c.mu.Lock()
	c.last = now
	c.mu.Unlock()
}

// Update recomputes RPM when at least one interval has passed since the
// previous recompute. Returns true when a new sample was produced.
func (c *Counter) Update(now time.Time) bool {
	c.mu.RLock()
	last := c.last
	c.mu.RUnlock()

	if last.IsZero() {
		c.Start(now)
		return false
	}

	elapsed := now.Sub(last)
	if elapsed < c.interval {
		return false
	}

	c.Recompute(elapsed)

	c.mu.Lock()
	c.last = now
	c.mu.Unlock()
	return true
}

// Recompute swaps the edge count to zero and derives RPM over elapsed.
// The swap is a single atomic operation so no edge is lost or counted twice.
func (c *Counter) Recompute(elapsed time.Duration) float64 {
	count := c.edges.Swap(0)

	rpm := Compute(count, c.magnets, elapsed)

	c.mu.Lock()
	c.rpm = rpm
	c.mu.Unlock()
	return rpm
}

// RPM returns the latest computed sample.
func (c *Counter) RPM() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rpm
}

// Compute returns (count / magnets) * (60000 / elapsedMs).
func Compute(count uint32, magnets float64, elapsed time.Duration) float64 {
	if count == 0 || magnets <= 0 || elapsed <= 0 {
		return 0
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	return (float64(count) / magnets) * (60000 / ms)
}
