// Package procedure implements the automated ramp-up, hold and ramp-down
// throttle test.
package procedure

import (
	"fmt"
	"time"
)

// State is the test procedure phase.
type State int

const (
	Idle State = iota
	RampingUp
	Holding
	RampingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RampingUp:
		return "ramping up"
	case Holding:
		return "holding at peak"
	case RampingDown:
		return "ramping down"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Throttle is the output the procedure drives.
type Throttle interface {
	Set(percent float64, now time.Time) error
}

// Config holds the procedure timing.
type Config struct {
	RampUpStep       float64
	RampUpInterval   time.Duration
	HoldDuration     time.Duration
	RampDownStep     float64
	RampDownInterval time.Duration

	// InterruptibleHold lets Stop abort the peak hold. When false a stop
	// during the hold takes effect when the hold ends.
	InterruptibleHold bool
}

// DefaultConfig returns the reference timing: 20 steps up over 100 s, a 5 s
// hold and 20 steps down over 10 s.
func DefaultConfig() Config {
	return Config{
		RampUpStep:       5,
		RampUpInterval:   5 * time.Second,
		HoldDuration:     5 * time.Second,
		RampDownStep:     5,
		RampDownInterval: 500 * time.Millisecond,
	}
}

// Procedure is the test state machine. It is driven by Tick from the control
// loop and is not safe for concurrent use.
type Procedure struct {
	cfg      Config
	throttle Throttle

	state       State
	level       float64
	lastChange  time.Time
	holdUntil   time.Time
	stopPending bool
}

// New creates an idle procedure driving throttle.
func New(cfg Config, throttle Throttle) *Procedure {
	return &Procedure{cfg: cfg, throttle: throttle}
}

// State returns the current phase.
func (p *Procedure) State() State {
	return p.state
}

// Running reports whether a test is in progress.
func (p *Procedure) Running() bool {
	return p.state != Idle
}

// Level returns the throttle level the procedure last commanded.
func (p *Procedure) Level() float64 {
	return p.level
}

// HoldUntil returns the end of the peak hold. Only meaningful while Holding.
func (p *Procedure) HoldUntil() time.Time {
	return p.holdUntil
}

// StopPending reports whether a stop is latched until the hold ends.
func (p *Procedure) StopPending() bool {
	return p.stopPending
}

// Start begins a test from zero throttle. A running test is restarted.
func (p *Procedure) Start(now time.Time) error {
	if err := p.throttle.Set(0, now); err != nil {
		return fmt.Errorf("failed to start procedure: %w", err)
	}
	p.level = 0
	p.state = RampingUp
	p.lastChange = now
	p.stopPending = false
	return nil
}

// Stop zeroes the throttle and returns to Idle. During a non-interruptible
// hold the stop is latched instead and deferred is true.
func (p *Procedure) Stop(now time.Time) (deferred bool, err error) {
	if p.state == Holding && !p.cfg.InterruptibleHold {
		p.stopPending = true
		return true, nil
	}
	return false, p.finish(now)
}

// Clear abandons the test without touching the throttle. Used when the
// operator takes manual control.
func (p *Procedure) Clear() {
	p.state = Idle
	p.stopPending = false
}

// Tick advances the state machine. It returns true when the state changed.
func (p *Procedure) Tick(now time.Time) (bool, error) {
	switch p.state {
	case RampingUp:
		if now.Sub(p.lastChange) < p.cfg.RampUpInterval {
			return false, nil
		}
		next := min(p.level+p.cfg.RampUpStep, 100)
		if err := p.set(next, now); err != nil {
			return false, err
		}
		if next >= 100 {
			p.state = Holding
			p.holdUntil = now.Add(p.cfg.HoldDuration)
			return true, nil
		}

	case Holding:
		if now.Before(p.holdUntil) {
			return false, nil
		}
		if p.stopPending {
			return true, p.finish(now)
		}
		p.state = RampingDown
		p.lastChange = now
		return true, nil

	case RampingDown:
		if now.Sub(p.lastChange) < p.cfg.RampDownInterval {
			return false, nil
		}
		next := p.level - p.cfg.RampDownStep
		if next <= 0 {
			return true, p.finish(now)
		}
		if err := p.set(next, now); err != nil {
			return false, err
		}
	}

	return false, nil
}

func (p *Procedure) set(level float64, now time.Time) error {
	if err := p.throttle.Set(level, now); err != nil {
		return fmt.Errorf("failed to set throttle to %.1f: %w", level, err)
	}
	p.level = level
	p.lastChange = now
	return nil
}

func (p *Procedure) finish(now time.Time) error {
	p.state = Idle
	p.stopPending = false
	p.level = 0
	if err := p.throttle.Set(0, now); err != nil {
		return fmt.Errorf("failed to stop throttle: %w", err)
	}
	return nil
}
