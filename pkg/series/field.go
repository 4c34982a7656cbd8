// Package series holds host-side telemetry history: a time window of
// records, averaging, display decimation and summaries.
package series

import (
	"fmt"
	"strings"

	"github.com/itohio/thruststand/pkg/telemetry"
)

// Field selects one measurement of a record.
type Field int

const (
	Thrust Field = iota
	RPM
	Temperature
	Voltage
	Current
	Power
	Throttle
)

var fieldNames = []string{"thrust", "rpm", "temperature", "voltage", "current", "power", "throttle"}

func (f Field) String() string {
	if f < 0 || int(f) >= len(fieldNames) {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldNames[f]
}

// ParseField returns the field with the given name.
func ParseField(name string) (Field, error) {
	for i, n := range fieldNames {
		if strings.EqualFold(n, name) {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", name)
}

// Of returns the field's value in rec.
func (f Field) Of(rec telemetry.Record) float64 {
	switch f {
	case Thrust:
		return rec.Thrust
	case RPM:
		return rec.RPM
	case Temperature:
		return rec.Temperature
	case Voltage:
		return rec.Voltage
	case Current:
		return rec.Current
	case Power:
		return rec.Power
	case Throttle:
		return rec.Throttle
	}
	return 0
}

// Point is one plotted value.
type Point struct {
	X, Y float64
}
