// Package throttle maps a 0-100% throttle command to an ESC pulse width.
package throttle

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// MinPulse is the disarmed/zero-throttle pulse width in microseconds.
	MinPulse = 1000
	// MaxPulse is the full-throttle pulse width in microseconds.
	MaxPulse = 2000

	// DefaultArmDuration is how long the ESC must see MinPulse before accepting
	// a nonzero command.
	DefaultArmDuration = 3 * time.Second
)

var (
	// ErrArming is returned for a nonzero command inside the arming window.
	ErrArming = errors.New("esc is arming")
	// ErrNotArmed is returned for any command before Arm.
	ErrNotArmed = errors.New("esc not armed")
)

// Output is the ESC signal generator.
type Output interface {
	SetPulseWidth(us uint32) error
}

// Controller owns the throttle command. Not safe for concurrent use.
type Controller struct {
	out         Output
	armDuration time.Duration

	armed   bool
	armedAt time.Time
	percent float64
	pulse   uint32
}

// New creates a Controller writing to out.
func New(out Output, armDuration time.Duration) *Controller {
	return &Controller{
		out:         out,
		armDuration: armDuration,
		pulse:       MinPulse,
	}
}

// Clamp limits percent to [0,100]. NaN maps to 0.
func Clamp(percent float64) float64 {
	switch {
	case math.IsNaN(percent):
		return 0
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	}
	return percent
}

// PulseWidthFor returns the pulse width for a throttle command after clamping.
func PulseWidthFor(percent float64) uint32 {
	return uint32(MinPulse + Clamp(percent)*10 + 0.5)
}

// Arm writes the minimum pulse and starts the arming window.
func (c *Controller) Arm(now time.Time) error {
	if err := c.out.SetPulseWidth(MinPulse); err != nil {
		return fmt.Errorf("failed to arm esc: %w", err)
	}
	c.armed = true
	c.armedAt = now
	c.percent = 0
	c.pulse = MinPulse
	return nil
}

// Armed reports whether the arming window has elapsed.
func (c *Controller) Armed(now time.Time) bool {
	return c.armed && now.Sub(c.armedAt) >= c.armDuration
}

// Set clamps percent and writes the matching pulse. Zero is always accepted
// once Arm has been called.
func (c *Controller) Set(percent float64, now time.Time) error {
	if !c.armed {
		return ErrNotArmed
	}
	percent = Clamp(percent)
	if percent > 0 && !c.Armed(now) {
		return fmt.Errorf("%w: %s remaining", ErrArming, c.armDuration-now.Sub(c.armedAt))
	}

	pulse := PulseWidthFor(percent)
	if err := c.out.SetPulseWidth(pulse); err != nil {
		return fmt.Errorf("failed to set pulse width: %w", err)
	}
	c.percent = percent
	c.pulse = pulse
	return nil
}

// Percent returns the last accepted command.
func (c *Controller) Percent() float64 {
	return c.percent
}

// PulseWidth returns the last written pulse width.
func (c *Controller) PulseWidth() uint32 {
	return c.pulse
}
