// Package telemetry formats and parses the stand's CSV telemetry stream.
package telemetry

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// Header is written once per session before the first record.
	Header = "time,thrust,rpm,temperature,voltage,current,power,throttle"
	// DefaultInterval is the emission period.
	DefaultInterval = 100 * time.Millisecond
	// FieldCount is the number of columns in a record.
	FieldCount = 8

	// TemperatureWarning is written once per streak of failed temperature reads.
	TemperatureWarning = "warning: temperature read failed"
)

// Record is one telemetry row.
type Record struct {
	Time        float64 // Seconds since boot
	Thrust      float64 // g
	RPM         float64
	Temperature float64 // °C
	Voltage     float64 // V
	Current     float64 // A
	Power       float64 // W, Voltage*Current at emission
	Throttle    float64 // %

	// Host side only
	Received         time.Time
	TemperatureValid bool
}

// Emitter writes records at a fixed cadence.
type Emitter struct {
	interval time.Duration

	last       time.Time
	emitted    bool
	headerSent bool

	lastGoodTemp float64
	tempFailing  bool
}

// NewEmitter creates an Emitter. Zero interval uses DefaultInterval.
func NewEmitter(interval time.Duration) *Emitter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Emitter{interval: interval}
}

// Due reports whether a record should be emitted at now.
func (e *Emitter) Due(now time.Time) bool {
	return !e.emitted || now.Sub(e.last) >= e.interval
}

// Emit writes rec, preceded by the header on the first call. Power is
// computed here and a non-finite temperature is replaced by the last good
// value. The written record is returned.
func (e *Emitter) Emit(w io.Writer, now time.Time, rec Record) (Record, error) {
	e.last = now
	e.emitted = true

	if !e.headerSent {
		if _, err := fmt.Fprintln(w, Header); err != nil {
			return rec, fmt.Errorf("failed to write header: %w", err)
		}
		e.headerSent = true
	}

	if math.IsNaN(rec.Temperature) || math.IsInf(rec.Temperature, 0) {
		rec.Temperature = e.lastGoodTemp
		rec.TemperatureValid = false
		if !e.tempFailing {
			e.tempFailing = true
			if _, err := fmt.Fprintln(w, TemperatureWarning); err != nil {
				return rec, fmt.Errorf("failed to write warning: %w", err)
			}
		}
	} else {
		e.lastGoodTemp = rec.Temperature
		e.tempFailing = false
		rec.TemperatureValid = true
	}

	rec.Power = rec.Voltage * rec.Current

	if _, err := io.WriteString(w, Format(rec)+"\n"); err != nil {
		return rec, fmt.Errorf("failed to write record: %w", err)
	}
	return rec, nil
}

// Format renders rec as a CSV row without a trailing newline.
func Format(rec Record) string {
	return fmt.Sprintf("%.2f,%.2f,%.1f,%.2f,%.2f,%.2f,%.2f,%.1f",
		rec.Time, rec.Thrust, rec.RPM, rec.Temperature,
		rec.Voltage, rec.Current, rec.Power, rec.Throttle)
}

// IsHeader reports whether line is the CSV header.
func IsHeader(line string) bool {
	return strings.TrimSpace(line) == Header
}

// ParseRecord parses a CSV row.
// Format: time,thrust,rpm,temperature,voltage,current,power,throttle
// Example: 12.30,845.12,9120.0,31.40,15.92,18.20,289.74,65.0
//
// A "nan" temperature is accepted, stored as 0 and flagged invalid. Every
// other field must be a finite number.
func ParseRecord(line string) (Record, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != FieldCount {
		return Record{}, fmt.Errorf("invalid line format: expected %d comma-separated values, got %d", FieldCount, len(parts))
	}

	var values [FieldCount]float64
	names := strings.Split(Header, ",")
	tempValid := true
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Record{}, fmt.Errorf("invalid %s: %w", names[i], err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			if i != 3 {
				return Record{}, fmt.Errorf("invalid %s: not finite", names[i])
			}
			v = 0
			tempValid = false
		}
		values[i] = v
	}

	return Record{
		Time:             values[0],
		Thrust:           values[1],
		RPM:              values[2],
		Temperature:      values[3],
		Voltage:          values[4],
		Current:          values[5],
		Power:            values[6],
		Throttle:         values[7],
		TemperatureValid: tempValid,
	}, nil
}
