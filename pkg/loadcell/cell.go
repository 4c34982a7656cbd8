// Package loadcell wraps a weighing amplifier with tare, calibration and
// filtered reads.
package loadcell

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// DefaultTareSamples is the number of samples averaged into the tare offset.
	DefaultTareSamples = 10
	// DefaultFilterSamples is the moving average length applied to readings.
	DefaultFilterSamples = 4

	pollInterval = time.Millisecond
)

var (
	// ErrStartupTimeout is returned when the amplifier never reports ready.
	ErrStartupTimeout = errors.New("load cell amplifier did not stabilize")
	// ErrInvalidMass is returned for a non-positive reference mass.
	ErrInvalidMass = errors.New("reference mass must be positive")
	// ErrNoLoad is returned when the reading equals the tare offset.
	ErrNoLoad = errors.New("no load detected on the cell")
	// ErrInvalidFactor is returned for a zero or non-finite scale factor.
	ErrInvalidFactor = errors.New("scale factor must be finite and nonzero")
)

// Amplifier is the weighing amplifier peripheral (HX711 or simulated).
type Amplifier interface {
	// Ready reports whether a new conversion is available.
	Ready() bool
	// Read returns the latest conversion in raw counts.
	Read() (int32, error)
}

// Cell tracks tare offset, scale factor and a filtered reading for one
// amplifier. It is not safe for concurrent use; the control loop owns it.
type Cell struct {
	amp Amplifier

	factor float64
	offset float64

	// Moving average of raw reads
	window []float64
	next   int
	filled int
	raw    float64

	// Cooperative tare
	tareSamples int
	taring      bool
	tareSum     float64
	tareCount   int
	stable      bool
}

// New creates a Cell. Zero sample counts fall back to the defaults.
func New(amp Amplifier, factor float64, tareSamples, filterSamples int) *Cell {
	if tareSamples <= 0 {
		tareSamples = DefaultTareSamples
	}
	if filterSamples <= 0 {
		filterSamples = DefaultFilterSamples
	}
	return &Cell{
		amp:         amp,
		factor:      factor,
		window:      make([]float64, filterSamples),
		tareSamples: tareSamples,
	}
}

// Begin waits until the amplifier produces its first conversion. A timeout is
// fatal for the stand; callers must not retry.
func (c *Cell) Begin(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for !c.amp.Ready() {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", ErrStartupTimeout, timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}

	_, err := c.Poll()
	return err
}

// Poll consumes at most one conversion if the amplifier has one ready.
// Returns true when a sample was read.
func (c *Cell) Poll() (bool, error) {
	if !c.amp.Ready() {
		return false, nil
	}

	v, err := c.amp.Read()
	if err != nil {
		return false, fmt.Errorf("failed to read amplifier: %w", err)
	}
	sample := float64(v)

	c.window[c.next] = sample
	c.next = (c.next + 1) % len(c.window)
	if c.filled < len(c.window) {
		c.filled++
	}
	var sum float64
	for i := range c.filled {
		sum += c.window[i]
	}
	c.raw = sum / float64(c.filled)

	if c.taring {
		c.tareSum += sample
		c.tareCount++
		if c.tareCount >= c.tareSamples {
			c.offset = c.tareSum / float64(c.tareCount)
			c.taring = false
			c.stable = true
		}
	}

	return true, nil
}

// StartTare begins averaging samples into a new offset. Completion is
// reported by Stable once enough samples have been polled.
func (c *Cell) StartTare() {
	c.taring = true
	c.stable = false
	c.tareSum = 0
	c.tareCount = 0
}

// Tare runs a complete tare, polling until the offset is stable.
func (c *Cell) Tare(ctx context.Context) error {
	c.StartTare()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if _, err := c.Poll(); err != nil {
			return err
		}
		if c.stable {
			return nil
		}
		select {
		case <-ctx.Done():
			c.taring = false
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Taring reports whether a tare is in progress.
func (c *Cell) Taring() bool {
	return c.taring
}

// Stable reports whether the last tare completed.
func (c *Cell) Stable() bool {
	return c.stable
}

// ReadRaw returns the filtered reading in raw counts.
func (c *Cell) ReadRaw() float64 {
	return c.raw
}

// Offset returns the tare offset in raw counts.
func (c *Cell) Offset() float64 {
	return c.offset
}

// ComputeScaleFactor derives counts-per-unit from the current reading and a
// known reference mass on the cell.
func (c *Cell) ComputeScaleFactor(knownMass float64) (float64, error) {
	if !(knownMass > 0) || math.IsInf(knownMass, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidMass, knownMass)
	}
	delta := c.raw - c.offset
	if delta == 0 {
		return 0, ErrNoLoad
	}
	return delta / knownMass, nil
}

// SetScaleFactor replaces the session scale factor.
func (c *Cell) SetScaleFactor(f float64) error {
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidFactor, f)
	}
	c.factor = f
	return nil
}

// ScaleFactor returns the session scale factor.
func (c *Cell) ScaleFactor() float64 {
	return c.factor
}

// Mass converts the filtered reading to calibrated units.
func (c *Cell) Mass() float64 {
	if c.factor == 0 {
		return 0
	}
	return (c.raw - c.offset) / c.factor
}
