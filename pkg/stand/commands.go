package stand

import (
	"errors"
	"fmt"
	"time"

	"github.com/itohio/thruststand/pkg/calibration"
	"github.com/itohio/thruststand/pkg/command"
	"github.com/itohio/thruststand/pkg/procedure"
)

var _ command.Handler = (*Stand)(nil)

// Stop zeroes the throttle and ends any test. During a non-interruptible
// peak hold the stop is applied when the hold ends.
func (s *Stand) Stop(now time.Time) error {
	deferred, err := s.proc.Stop(now)
	if err != nil {
		return err
	}
	if deferred {
		s.printf("stop latched, holding until %.2f", s.proc.HoldUntil().Sub(s.boot).Seconds())
		return nil
	}
	s.lastProc = s.proc.State()
	s.println("stopped, throttle 0")
	return nil
}

// StartProcedure starts the automated ramp test from zero throttle.
func (s *Stand) StartProcedure(now time.Time) error {
	if err := s.proc.Start(now); err != nil {
		return err
	}
	s.lastProc = s.proc.State()
	c := s.cfg.Procedure
	s.printf("procedure: ramping up %.0f%% every %s", c.RampUpStep, c.RampUpInterval)
	return nil
}

// Calibrate starts the tare and known-mass sequence.
func (s *Stand) Calibrate(time.Time) error {
	s.beginCalibration()
	return nil
}

func (s *Stand) beginCalibration() {
	s.cal.Begin()
	s.println("calibration: remove all load, then send t to tare")
}

// OverrideFactor sets the scale factor directly, or prompts for one.
func (s *Stand) OverrideFactor(value float64, hasValue bool, _ time.Time) error {
	if !hasValue {
		s.cal.BeginOverride()
		s.printf("enter new calibration factor (current %.2f)", s.cell.ScaleFactor())
		return nil
	}
	if err := s.cal.ChangeFactor(value); err != nil {
		return invalid(err)
	}
	s.printf("calibration factor: %.2f", s.cell.ScaleFactor())
	return nil
}

// Tare tares the load cell. Inside a calibration it is the operator's
// go-ahead for the tare phase.
func (s *Stand) Tare(time.Time) error {
	if s.cal.State() == calibration.AwaitingTare {
		if err := s.cal.Trigger(); err != nil {
			return err
		}
		s.taring = false
		s.println("taring...")
		return nil
	}
	if s.cal.State() == calibration.Taring {
		return fmt.Errorf("%w: tare already in progress", command.ErrInvalidValue)
	}

	s.cell.StartTare()
	s.taring = true
	s.println("taring...")
	return nil
}

// ZeroThrottle sets the throttle to 0 and abandons any test.
func (s *Stand) ZeroThrottle(now time.Time) error {
	return s.ManualThrottle(0, now)
}

// AwaitingNumber reports whether calibration is waiting for a number.
func (s *Stand) AwaitingNumber() bool {
	return s.cal.AwaitingNumber()
}

// CalibrationNumber feeds a reference mass or factor to the calibration.
func (s *Stand) CalibrationNumber(value float64, _ time.Time) error {
	state := s.cal.State()
	f, err := s.cal.SupplyNumber(value)
	if err != nil {
		return invalid(err)
	}
	if state == calibration.AwaitingMass {
		s.printf("calibration complete, factor %.2f", f)
		return nil
	}
	s.printf("calibration factor: %.2f", f)
	return nil
}

// ManualThrottle sets the throttle directly and abandons any test.
func (s *Stand) ManualThrottle(percent float64, now time.Time) error {
	wasRunning := s.proc.Running()
	if err := s.throttle.Set(percent, now); err != nil {
		return err
	}
	s.proc.Clear()
	s.lastProc = procedure.Idle
	if wasRunning {
		s.println("procedure: cancelled by manual throttle")
	}
	s.printf("throttle %.1f%%", s.throttle.Percent())
	return nil
}

// invalid marks operator input errors so the dispatcher reports them as
// ignored input.
func invalid(err error) error {
	if errors.Is(err, calibration.ErrNotPositive) {
		return fmt.Errorf("%w: %w", command.ErrInvalidValue, err)
	}
	return err
}
