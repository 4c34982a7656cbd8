// Package calibration runs the interactive two-phase load cell calibration
// (tare, then a known reference mass) and the manual factor override.
//
// Each phase waiting on the operator is an explicit state, so the control
// loop keeps emitting telemetry and handling commands while it waits.
package calibration

import (
	"errors"
	"fmt"
	"math"
)

// State is the calibration phase.
type State int

const (
	Idle State = iota
	AwaitingTare
	Taring
	AwaitingMass
	AwaitingFactor
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingTare:
		return "awaiting tare"
	case Taring:
		return "taring"
	case AwaitingMass:
		return "awaiting mass"
	case AwaitingFactor:
		return "awaiting factor"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrNotPositive is returned for a zero, negative or non-finite number.
	ErrNotPositive = errors.New("value must be a positive number")
	// ErrUnexpected is returned when an input does not fit the current phase.
	ErrUnexpected = errors.New("unexpected calibration input")
)

// Scale is the load cell the procedure calibrates.
type Scale interface {
	StartTare()
	Stable() bool
	ComputeScaleFactor(knownMass float64) (float64, error)
	SetScaleFactor(f float64) error
}

// Procedure is the calibration state machine. Not safe for concurrent use.
type Procedure struct {
	scale Scale
	state State
}

// New creates an idle procedure.
func New(scale Scale) *Procedure {
	return &Procedure{scale: scale}
}

// State returns the current phase.
func (p *Procedure) State() State {
	return p.state
}

// Active reports whether a calibration is in progress.
func (p *Procedure) Active() bool {
	return p.state != Idle
}

// AwaitingNumber reports whether the next bare number belongs to calibration.
func (p *Procedure) AwaitingNumber() bool {
	return p.state == AwaitingMass || p.state == AwaitingFactor
}

// Begin (re)starts the full sequence from the tare phase.
func (p *Procedure) Begin() {
	p.state = AwaitingTare
}

// BeginOverride waits for a replacement factor from the operator.
func (p *Procedure) BeginOverride() {
	p.state = AwaitingFactor
}

// Trigger is the operator's go-ahead to tare the unloaded cell.
func (p *Procedure) Trigger() error {
	if p.state != AwaitingTare {
		return fmt.Errorf("%w: tare trigger while %s", ErrUnexpected, p.state)
	}
	p.scale.StartTare()
	p.state = Taring
	return nil
}

// Poll advances from Taring once the load cell reports a stable offset.
// Returns true when the state changed.
func (p *Procedure) Poll() bool {
	if p.state == Taring && p.scale.Stable() {
		p.state = AwaitingMass
		return true
	}
	return false
}

// SupplyNumber consumes an operator number: a reference mass while
// AwaitingMass or a factor while AwaitingFactor. It returns the applied factor.
// On error the state is unchanged.
func (p *Procedure) SupplyNumber(v float64) (float64, error) {
	switch p.state {
	case AwaitingMass:
		if !positive(v) {
			return 0, fmt.Errorf("%w: mass %v", ErrNotPositive, v)
		}
		f, err := p.scale.ComputeScaleFactor(v)
		if err != nil {
			return 0, fmt.Errorf("failed to compute scale factor: %w", err)
		}
		if err := p.scale.SetScaleFactor(f); err != nil {
			return 0, err
		}
		p.state = Idle
		return f, nil

	case AwaitingFactor:
		if err := p.ChangeFactor(v); err != nil {
			return 0, err
		}
		p.state = Idle
		return v, nil
	}

	return 0, fmt.Errorf("%w: number while %s", ErrUnexpected, p.state)
}

// ChangeFactor applies a positive factor directly, bypassing the sequence.
func (p *Procedure) ChangeFactor(v float64) error {
	if !positive(v) {
		return fmt.Errorf("%w: factor %v", ErrNotPositive, v)
	}
	return p.scale.SetScaleFactor(v)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
