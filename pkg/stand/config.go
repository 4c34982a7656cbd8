package stand

import (
	"time"

	"github.com/itohio/thruststand/pkg/loadcell"
	"github.com/itohio/thruststand/pkg/procedure"
	"github.com/itohio/thruststand/pkg/rpm"
	"github.com/itohio/thruststand/pkg/sensor"
	"github.com/itohio/thruststand/pkg/telemetry"
	"github.com/itohio/thruststand/pkg/throttle"
)

// Config holds everything the control loop needs. It is plain data so the
// firmware can build it without a config file.
type Config struct {
	MagnetsPerRevolution int
	RPMInterval          time.Duration
	TelemetryInterval    time.Duration
	ArmDuration          time.Duration
	StartupTimeout       time.Duration
	LoopInterval         time.Duration

	Procedure procedure.Config

	Factor             float64
	TareSamples        int
	FilterSamples      int
	CalibrateOnStartup bool

	Sensors sensor.Params
}

// DefaultConfig returns the reference stand settings.
func DefaultConfig() Config {
	return Config{
		MagnetsPerRevolution: rpm.DefaultMagnets,
		RPMInterval:          rpm.DefaultInterval,
		TelemetryInterval:    telemetry.DefaultInterval,
		ArmDuration:          throttle.DefaultArmDuration,
		StartupTimeout:       2 * time.Second,
		LoopInterval:         5 * time.Millisecond,
		Procedure:            procedure.DefaultConfig(),
		Factor:               420,
		TareSamples:          loadcell.DefaultTareSamples,
		FilterSamples:        loadcell.DefaultFilterSamples,
		Sensors:              sensor.DefaultParams(),
	}
}
