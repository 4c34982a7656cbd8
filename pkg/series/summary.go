package series

import (
	"github.com/itohio/thruststand/pkg/telemetry"
)

// Summary condenses a test run.
type Summary struct {
	Records        int
	Duration       float64 // s
	PeakThrust     float64 // g
	PeakThrottle   float64 // throttle at peak thrust
	PeakPower      float64 // power at peak thrust
	MaxRPM         float64
	MaxPower       float64 // W
	MaxCurrent     float64 // A
	MinVoltage     float64 // V
	MaxTemperature float64 // °C, valid readings only
	Efficiency     float64 // g/W at peak thrust
}

// Summarize computes the run summary of records.
func Summarize(records []telemetry.Record) Summary {
	var s Summary
	if len(records) == 0 {
		return s
	}

	s.Records = len(records)
	s.Duration = records[len(records)-1].Time - records[0].Time
	s.MinVoltage = records[0].Voltage

	for i, r := range records {
		if i == 0 || r.Thrust > s.PeakThrust {
			s.PeakThrust = r.Thrust
			s.PeakThrottle = r.Throttle
			s.PeakPower = r.Power
		}
		s.MaxRPM = max(s.MaxRPM, r.RPM)
		s.MaxPower = max(s.MaxPower, r.Power)
		s.MaxCurrent = max(s.MaxCurrent, r.Current)
		s.MinVoltage = min(s.MinVoltage, r.Voltage)
		if r.TemperatureValid {
			s.MaxTemperature = max(s.MaxTemperature, r.Temperature)
		}
	}

	if s.PeakPower > 0 {
		s.Efficiency = s.PeakThrust / s.PeakPower
	}
	return s
}
