package config

import (
	"github.com/itohio/thruststand/pkg/procedure"
	"github.com/itohio/thruststand/pkg/sensor"
	"github.com/itohio/thruststand/pkg/stand"
)

// StandConfig converts the file settings into the control loop's config.
func (c *Config) StandConfig() stand.Config {
	return stand.Config{
		MagnetsPerRevolution: c.Stand.MagnetsPerRevolution,
		RPMInterval:          c.Stand.RPMInterval,
		TelemetryInterval:    c.Stand.TelemetryInterval,
		ArmDuration:          c.Stand.ArmDuration,
		StartupTimeout:       c.Stand.StartupTimeout,
		LoopInterval:         c.Stand.LoopInterval,
		Procedure: procedure.Config{
			RampUpStep:        c.Procedure.RampUpStep,
			RampUpInterval:    c.Procedure.RampUpInterval,
			HoldDuration:      c.Procedure.HoldDuration,
			RampDownStep:      c.Procedure.RampDownStep,
			RampDownInterval:  c.Procedure.RampDownInterval,
			InterruptibleHold: c.Procedure.InterruptibleHold,
		},
		Factor:             c.Calibration.Factor,
		TareSamples:        c.Calibration.TareSamples,
		FilterSamples:      c.Calibration.FilterSamples,
		CalibrateOnStartup: c.Calibration.OnStartup,
		Sensors:            c.SensorParams(),
	}
}

// SensorParams converts the analog front-end settings.
func (c *Config) SensorParams() sensor.Params {
	s := c.Sensors
	return sensor.Params{
		VRef:             float32(s.VRef),
		ADCBits:          s.ADCBits,
		DividerR1:        float32(s.DividerR1),
		DividerR2:        float32(s.DividerR2),
		CurrentZeroVolts: float32(s.CurrentZeroVolts),
		CurrentMVPerAmp:  float32(s.CurrentMVPerAmp),
		NTCSeriesR:       float32(s.NTCSeriesR),
		NTCNominalR:      float32(s.NTCNominalR),
		NTCNominalC:      float32(s.NTCNominalC),
		NTCBeta:          float32(s.NTCBeta),
	}
}
