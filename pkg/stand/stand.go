// Package stand is the thrust stand control loop. It composes the load cell,
// RPM counter, throttle, test procedure, calibration and telemetry into one
// cooperative loop that reads operator lines and writes CSV telemetry and
// diagnostics to the same output.
package stand

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/itohio/thruststand/pkg/calibration"
	"github.com/itohio/thruststand/pkg/command"
	"github.com/itohio/thruststand/pkg/loadcell"
	"github.com/itohio/thruststand/pkg/procedure"
	"github.com/itohio/thruststand/pkg/rpm"
	"github.com/itohio/thruststand/pkg/telemetry"
	"github.com/itohio/thruststand/pkg/throttle"
)

var (
	// ErrHalted is returned once the stand has hit a fatal fault. Only a
	// reset recovers.
	ErrHalted = errors.New("stand halted")
	// ErrMissingHardware is returned by New when a peripheral is nil.
	ErrMissingHardware = errors.New("missing hardware")
)

// Channel selects an analog input.
type Channel int

const (
	VoltageChannel Channel = iota
	CurrentChannel
	TemperatureChannel
)

// Analog reads raw ADC counts.
type Analog interface {
	Read(ch Channel) uint16
}

// Hall delivers falling edges from the RPM sensor. onEdge may be called
// from an interrupt or another goroutine.
type Hall interface {
	Listen(onEdge func()) error
}

// Hardware is the set of peripherals the stand drives.
type Hardware struct {
	Amplifier loadcell.Amplifier
	ESC       throttle.Output
	Hall      Hall
	Analog    Analog
}

// Stand is the control loop state. All methods except those on the RPM
// counter must be called from a single goroutine.
type Stand struct {
	cfg Config
	hw  Hardware
	out io.Writer

	cell       *loadcell.Cell
	cal        *calibration.Procedure
	throttle   *throttle.Controller
	proc       *procedure.Procedure
	counter    *rpm.Counter
	emitter    *telemetry.Emitter
	dispatcher *command.Dispatcher

	boot     time.Time
	booted   bool
	halted   error
	taring   bool // standalone tare in progress
	tared    bool // first tare done, thrust is meaningful
	pollErr  bool
	procErr  bool
	lastProc procedure.State
	last     telemetry.Record
}

// New wires a stand to its hardware. Diagnostics and telemetry go to out.
func New(cfg Config, hw Hardware, out io.Writer) (*Stand, error) {
	if hw.Amplifier == nil || hw.ESC == nil || hw.Hall == nil || hw.Analog == nil {
		return nil, ErrMissingHardware
	}

	counter, err := rpm.New(cfg.MagnetsPerRevolution, cfg.RPMInterval)
	if err != nil {
		return nil, err
	}

	s := &Stand{
		cfg:     cfg,
		hw:      hw,
		out:     out,
		cell:    loadcell.New(hw.Amplifier, cfg.Factor, cfg.TareSamples, cfg.FilterSamples),
		counter: counter,
		emitter: telemetry.NewEmitter(cfg.TelemetryInterval),
	}
	s.throttle = throttle.New(hw.ESC, cfg.ArmDuration)
	s.proc = procedure.New(cfg.Procedure, s.throttle)
	s.cal = calibration.New(s.cell)
	s.dispatcher = command.NewDispatcher(s, out)

	return s, nil
}

// Boot arms the ESC, waits for the load cell and starts the initial tare.
// A load cell that never becomes ready halts the stand.
func (s *Stand) Boot(ctx context.Context, now time.Time) error {
	s.boot = now
	s.println("thrust stand starting")

	if err := s.throttle.Arm(now); err != nil {
		return s.halt(err)
	}

	if err := s.cell.Begin(ctx, s.cfg.StartupTimeout); err != nil {
		if errors.Is(err, loadcell.ErrStartupTimeout) {
			s.println("fatal: load cell amplifier not responding, halting")
			return s.halt(err)
		}
		return err
	}

	s.cell.StartTare()
	s.taring = true
	s.println("taring load cell, keep the stand unloaded")

	if err := s.hw.Hall.Listen(s.counter.OnEdge); err != nil {
		return s.halt(fmt.Errorf("failed to attach rpm sensor: %w", err))
	}
	s.counter.Start(now)
	s.booted = true

	s.printf("esc arming for %s, scale factor %.2f", s.cfg.ArmDuration, s.cell.ScaleFactor())
	if s.cfg.CalibrateOnStartup {
		s.beginCalibration()
	}
	s.println("ready, send ? for commands")
	return nil
}

func (s *Stand) halt(cause error) error {
	s.halted = fmt.Errorf("%w: %w", ErrHalted, cause)
	return s.halted
}

// Halted returns the fatal fault, or nil.
func (s *Stand) Halted() error {
	return s.halted
}

// HandleLine processes one operator line.
func (s *Stand) HandleLine(line string, now time.Time) {
	if !s.booted || s.halted != nil {
		return
	}
	s.dispatcher.HandleLine(line, now)
}

// Step runs one loop iteration: sensor polling, calibration, RPM, the test
// procedure and telemetry.
func (s *Stand) Step(now time.Time) {
	if !s.booted || s.halted != nil {
		return
	}

	if _, err := s.cell.Poll(); err != nil {
		if !s.pollErr {
			s.printf("error: %v", err)
		}
		s.pollErr = true
	} else {
		s.pollErr = false
	}

	if !s.tared && s.cell.Stable() {
		s.tared = true
	}
	if s.taring && s.cell.Stable() {
		s.taring = false
		s.printf("tare complete, offset %.0f", s.cell.Offset())
	}
	if s.cal.Poll() {
		s.println("tare complete, place the reference mass and enter its weight in grams")
	}

	s.counter.Update(now)

	changed, err := s.proc.Tick(now)
	if err != nil {
		if !s.procErr {
			s.printf("error: %v", err)
		}
		s.procErr = true
	} else {
		s.procErr = false
	}
	if changed || s.proc.State() != s.lastProc {
		s.reportProcedure()
	}

	if s.emitter.Due(now) {
		rec, err := s.emitter.Emit(s.out, now, s.sample(now))
		if err != nil {
			return
		}
		s.last = rec
	}
}

func (s *Stand) reportProcedure() {
	state := s.proc.State()
	s.lastProc = state
	switch state {
	case procedure.Holding:
		s.printf("procedure: holding at %.0f%% for %s", s.proc.Level(), s.cfg.Procedure.HoldDuration)
	case procedure.Idle:
		s.println("procedure: complete, motor stopped")
	default:
		s.printf("procedure: %s", state)
	}
}

func (s *Stand) sample(now time.Time) telemetry.Record {
	p := s.cfg.Sensors
	// Until the boot tare completes the offset is unknown.
	var thrust float64
	if s.tared {
		thrust = s.cell.Mass()
	}
	return telemetry.Record{
		Time:        now.Sub(s.boot).Seconds(),
		Thrust:      thrust,
		RPM:         s.counter.RPM(),
		Temperature: float64(p.Temperature(s.hw.Analog.Read(TemperatureChannel))),
		Voltage:     float64(p.Voltage(s.hw.Analog.Read(VoltageChannel))),
		Current:     float64(p.Current(s.hw.Analog.Read(CurrentChannel))),
		Throttle:    s.throttle.Percent(),
	}
}

// Run drives the loop until ctx is done. Lines are read from in by a
// separate goroutine; all state changes happen on the calling goroutine.
// Boot must have succeeded first. On return the throttle is zeroed.
func (s *Stand) Run(ctx context.Context, in io.Reader) error {
	if s.halted != nil {
		return s.halted
	}
	if !s.booted {
		return errors.New("stand not booted")
	}

	lines := make(chan string, 8)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	interval := s.cfg.LoopInterval
	if interval <= 0 {
		interval = 5 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.proc.Clear()
			_ = s.throttle.Set(0, time.Now())
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			s.HandleLine(line, time.Now())
		case now := <-ticker.C:
			s.Step(now)
		}
	}
}

// Last returns the most recently emitted record.
func (s *Stand) Last() telemetry.Record {
	return s.last
}

// Throttle returns the current throttle command.
func (s *Stand) Throttle() float64 {
	return s.throttle.Percent()
}

// ProcedureState returns the test procedure phase.
func (s *Stand) ProcedureState() procedure.State {
	return s.proc.State()
}

// CalibrationState returns the calibration phase.
func (s *Stand) CalibrationState() calibration.State {
	return s.cal.State()
}

// ScaleFactor returns the load cell scale factor.
func (s *Stand) ScaleFactor() float64 {
	return s.cell.ScaleFactor()
}

func (s *Stand) println(msg string) {
	fmt.Fprintln(s.out, msg)
}

func (s *Stand) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format+"\n", args...)
}
