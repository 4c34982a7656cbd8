// Package command parses operator input lines and routes them to the stand.
package command

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies a parsed command.
type Kind int

const (
	Unknown Kind = iota
	Stop
	Procedure
	FactorOverride
	Calibrate
	Tare
	Zero
	Help
	Number
)

func (k Kind) String() string {
	for _, e := range table {
		if e.Kind == k {
			return e.Names[0]
		}
	}
	if k == Number {
		return "number"
	}
	return "unknown"
}

// Command is one parsed operator line.
type Command struct {
	Kind     Kind
	Value    float64
	HasValue bool
}

var (
	// ErrEmpty is returned for a blank line.
	ErrEmpty = errors.New("empty command")
	// ErrUnknown is returned for an unrecognized token.
	ErrUnknown = errors.New("unknown command")
	// ErrInvalidValue is returned for a malformed or out-of-range value.
	ErrInvalidValue = errors.New("invalid value")
)

type entry struct {
	Kind        Kind
	Names       []string
	Args        string
	Description string
}

var table = []entry{
	{Kind: Stop, Names: []string{"s", "stop"}, Description: "stop the motor and any running test"},
	{Kind: Procedure, Names: []string{"procedure"}, Description: "run the ramp-up, hold, ramp-down test"},
	{Kind: Calibrate, Names: []string{"cal", "r"}, Description: "calibrate the load cell (tare, then known mass)"},
	{Kind: FactorOverride, Names: []string{"c"}, Args: "[factor]", Description: "set the calibration factor directly"},
	{Kind: Tare, Names: []string{"t"}, Description: "tare the load cell"},
	{Kind: Zero, Names: []string{"z"}, Description: "set throttle to 0"},
	{Kind: Help, Names: []string{"?", "help"}, Description: "show this help"},
}

var keywords = func() map[string]Kind {
	m := make(map[string]Kind)
	for _, e := range table {
		for _, n := range e.Names {
			m[n] = e.Kind
		}
	}
	return m
}()

// Parse parses one line. Keywords are case-insensitive and surrounding
// whitespace is ignored.
func Parse(line string) (Command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Command{}, ErrEmpty
	}

	if kind, ok := keywords[fields[0]]; ok {
		cmd := Command{Kind: kind}
		switch {
		case len(fields) == 1:
			return cmd, nil
		case kind == FactorOverride && len(fields) == 2:
			v, err := parseFloat(fields[1])
			if err != nil {
				return Command{}, err
			}
			cmd.Value = v
			cmd.HasValue = true
			return cmd, nil
		}
		return Command{}, fmt.Errorf("%w: unexpected argument to %q", ErrInvalidValue, fields[0])
	}

	if len(fields) == 1 {
		if v, err := parseFloat(fields[0]); err == nil {
			return Command{Kind: Number, Value: v, HasValue: true}, nil
		}
	}

	return Command{}, fmt.Errorf("%w: %q", ErrUnknown, strings.TrimSpace(line))
}

// parseFloat accepts plain decimals only: digits, one point and a leading
// sign. Exponents, hex floats, underscores and inf/nan are rejected.
func parseFloat(s string) (float64, error) {
	if !isDecimal(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}
	return v, nil
}

func isDecimal(s string) bool {
	if s != "" && (s[0] == '-' || s[0] == '+') {
		s = s[1:]
	}
	digits, points := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			points++
		default:
			return false
		}
	}
	return digits > 0 && points <= 1
}

// Handler carries out commands on the stand.
type Handler interface {
	Stop(now time.Time) error
	StartProcedure(now time.Time) error
	Calibrate(now time.Time) error
	OverrideFactor(value float64, hasValue bool, now time.Time) error
	Tare(now time.Time) error
	ZeroThrottle(now time.Time) error
	// AwaitingNumber reports whether a bare number is calibration input.
	AwaitingNumber() bool
	CalibrationNumber(value float64, now time.Time) error
	ManualThrottle(percent float64, now time.Time) error
}

// Dispatcher routes parsed commands to a Handler and writes diagnostics.
type Dispatcher struct {
	h   Handler
	out io.Writer
}

// NewDispatcher creates a Dispatcher writing diagnostic lines to out.
func NewDispatcher(h Handler, out io.Writer) *Dispatcher {
	return &Dispatcher{h: h, out: out}
}

// HandleLine parses and dispatches one input line. Invalid input produces
// an "ignored:" diagnostic and no state change.
func (d *Dispatcher) HandleLine(line string, now time.Time) {
	cmd, err := Parse(line)
	if errors.Is(err, ErrEmpty) {
		return
	}
	if err != nil {
		fmt.Fprintf(d.out, "ignored: %v\n", err)
		return
	}

	if err := d.Dispatch(cmd, now); err != nil {
		if errors.Is(err, ErrInvalidValue) {
			fmt.Fprintf(d.out, "ignored: %v\n", err)
			return
		}
		fmt.Fprintf(d.out, "error: %v\n", err)
	}
}

// Dispatch routes cmd. A bare number is calibration input while calibration
// awaits one, otherwise a manual throttle in [0,100].
func (d *Dispatcher) Dispatch(cmd Command, now time.Time) error {
	switch cmd.Kind {
	case Stop:
		return d.h.Stop(now)
	case Procedure:
		return d.h.StartProcedure(now)
	case Calibrate:
		return d.h.Calibrate(now)
	case FactorOverride:
		if cmd.HasValue && !(cmd.Value > 0) {
			return fmt.Errorf("%w: factor must be positive, got %v", ErrInvalidValue, cmd.Value)
		}
		return d.h.OverrideFactor(cmd.Value, cmd.HasValue, now)
	case Tare:
		return d.h.Tare(now)
	case Zero:
		return d.h.ZeroThrottle(now)
	case Help:
		WriteHelp(d.out)
		return nil
	case Number:
		if d.h.AwaitingNumber() {
			return d.h.CalibrationNumber(cmd.Value, now)
		}
		if cmd.Value < 0 || cmd.Value > 100 {
			return fmt.Errorf("%w: throttle %v out of range 0-100", ErrInvalidValue, cmd.Value)
		}
		return d.h.ManualThrottle(cmd.Value, now)
	}
	return fmt.Errorf("%w: %v", ErrUnknown, cmd.Kind)
}

// WriteHelp lists the accepted commands.
func WriteHelp(w io.Writer) {
	fmt.Fprintln(w, "commands:")
	for _, e := range table {
		name := strings.Join(e.Names, ", ")
		if e.Args != "" {
			name += " " + e.Args
		}
		fmt.Fprintf(w, "  %-16s %s\n", name, e.Description)
	}
	fmt.Fprintf(w, "  %-16s %s\n", "0-100", "set throttle percent (ends any running test)")
}
