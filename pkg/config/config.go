package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the stand and monitor configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Stand       StandConfig       `yaml:"stand"`
	Procedure   ProcedureConfig   `yaml:"procedure"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Sensors     SensorsConfig     `yaml:"sensors"`
	Mock        MockConfig        `yaml:"mock"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// StandConfig contains the control loop timing and sensor constants.
type StandConfig struct {
	MagnetsPerRevolution int           `yaml:"magnets_per_revolution"`
	RPMInterval          time.Duration `yaml:"rpm_interval"`
	TelemetryInterval    time.Duration `yaml:"telemetry_interval"`
	ArmDuration          time.Duration `yaml:"arm_duration"`    // ESC warm-up at minimum pulse
	StartupTimeout       time.Duration `yaml:"startup_timeout"` // Load cell stabilization limit (fatal)
	LoopInterval         time.Duration `yaml:"loop_interval"`
}

// ProcedureConfig contains the automated ramp-up/hold/ramp-down timing.
type ProcedureConfig struct {
	RampUpStep        float64       `yaml:"ramp_up_step"`
	RampUpInterval    time.Duration `yaml:"ramp_up_interval"`
	HoldDuration      time.Duration `yaml:"hold_duration"`
	RampDownStep      float64       `yaml:"ramp_down_step"`
	RampDownInterval  time.Duration `yaml:"ramp_down_interval"`
	InterruptibleHold bool          `yaml:"interruptible_hold"` // Stop aborts the peak hold instead of waiting for it
}

// CalibrationConfig contains load cell calibration parameters.
type CalibrationConfig struct {
	Factor        float64 `yaml:"factor"`         // Raw counts per gram
	TareSamples   int     `yaml:"tare_samples"`   // Samples averaged for the tare offset
	FilterSamples int     `yaml:"filter_samples"` // Moving average length for readings
	OnStartup     bool    `yaml:"on_startup"`     // Run the tare/known-mass sequence after boot
}

// SensorsConfig contains analog front-end parameters.
type SensorsConfig struct {
	VRef             float64 `yaml:"vref"`
	ADCBits          int     `yaml:"adc_bits"`
	DividerR1        float64 `yaml:"divider_r1"`
	DividerR2        float64 `yaml:"divider_r2"`
	CurrentZeroVolts float64 `yaml:"current_zero_volts"`
	CurrentMVPerAmp  float64 `yaml:"current_mv_per_amp"`
	NTCSeriesR       float64 `yaml:"ntc_series_r"`
	NTCNominalR      float64 `yaml:"ntc_nominal_r"`
	NTCNominalC      float64 `yaml:"ntc_nominal_c"`
	NTCBeta          float64 `yaml:"ntc_beta"`
}

// MockConfig contains simulated rig parameters.
type MockConfig struct {
	MaxRPM         float64       `yaml:"max_rpm"`
	MaxThrust      float64       `yaml:"max_thrust"`  // Thrust at MaxRPM (g)
	MaxCurrent     float64       `yaml:"max_current"` // Current at full throttle (A)
	BatteryVoltage float64       `yaml:"battery_voltage"`
	Resistance     float64       `yaml:"resistance"` // Battery internal resistance (Ohm)
	TimeConstant   time.Duration `yaml:"time_constant"`
	AmbientC       float64       `yaml:"ambient_c"`
	Gain           float64       `yaml:"gain"`   // Amplifier counts per gram
	Offset         int32         `yaml:"offset"` // Amplifier counts at zero load
	Noise          float64       `yaml:"noise"`  // Amplifier noise amplitude (counts)
	StartupDelay   time.Duration `yaml:"startup_delay"`
	SampleRate     time.Duration `yaml:"sample_rate"`
	FailStartup    bool          `yaml:"fail_startup"`
}

// MQTTConfig contains the optional telemetry republisher settings.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // Empty disables publishing
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// ErrInvalid is returned by Validate for out-of-range settings.
var ErrInvalid = errors.New("invalid configuration")

// Default returns a default configuration matching the reference stand.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 9600,
		},
		Stand: StandConfig{
			MagnetsPerRevolution: 8,
			RPMInterval:          time.Second,
			TelemetryInterval:    100 * time.Millisecond,
			ArmDuration:          3 * time.Second,
			StartupTimeout:       2 * time.Second,
			LoopInterval:         5 * time.Millisecond,
		},
		Procedure: ProcedureConfig{
			RampUpStep:        5,
			RampUpInterval:    5 * time.Second,
			HoldDuration:      5 * time.Second,
			RampDownStep:      5,
			RampDownInterval:  500 * time.Millisecond,
			InterruptibleHold: false,
		},
		Calibration: CalibrationConfig{
			Factor:        420.0,
			TareSamples:   10,
			FilterSamples: 4,
			OnStartup:     false,
		},
		Sensors: SensorsConfig{
			VRef:             5.0,
			ADCBits:          10,
			DividerR1:        30000,
			DividerR2:        7500,
			CurrentZeroVolts: 2.5,
			CurrentMVPerAmp:  66,
			NTCSeriesR:       10000,
			NTCNominalR:      10000,
			NTCNominalC:      25,
			NTCBeta:          3950,
		},
		Mock: MockConfig{
			MaxRPM:         12000,
			MaxThrust:      1500,
			MaxCurrent:     30,
			BatteryVoltage: 16.8,
			Resistance:     0.05,
			TimeConstant:   300 * time.Millisecond,
			AmbientC:       22,
			Gain:           420.0,
			Offset:         8400,
			Noise:          40,
			StartupDelay:   200 * time.Millisecond,
			SampleRate:     100 * time.Millisecond, // HX711 at 10 SPS
		},
		MQTT: MQTTConfig{
			TopicPrefix: "thruststand",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects settings the control loop cannot run with.
func (c *Config) Validate() error {
	if c.Stand.MagnetsPerRevolution <= 0 {
		return fmt.Errorf("%w: magnets_per_revolution must be positive, got %d", ErrInvalid, c.Stand.MagnetsPerRevolution)
	}
	if c.Procedure.RampUpStep <= 0 || c.Procedure.RampDownStep <= 0 {
		return fmt.Errorf("%w: ramp steps must be positive", ErrInvalid)
	}
	if c.Calibration.Factor == 0 {
		return fmt.Errorf("%w: calibration factor must be nonzero", ErrInvalid)
	}
	if c.Sensors.ADCBits <= 0 || c.Sensors.ADCBits > 16 {
		return fmt.Errorf("%w: adc_bits must be in 1..16, got %d", ErrInvalid, c.Sensors.ADCBits)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Stand.RPMInterval == 0 {
		c.Stand.RPMInterval = def.Stand.RPMInterval
	}
	if c.Stand.TelemetryInterval == 0 {
		c.Stand.TelemetryInterval = def.Stand.TelemetryInterval
	}
	if c.Stand.ArmDuration == 0 {
		c.Stand.ArmDuration = def.Stand.ArmDuration
	}
	if c.Stand.StartupTimeout == 0 {
		c.Stand.StartupTimeout = def.Stand.StartupTimeout
	}
	if c.Stand.LoopInterval == 0 {
		c.Stand.LoopInterval = def.Stand.LoopInterval
	}

	if c.Procedure.RampUpInterval == 0 {
		c.Procedure.RampUpInterval = def.Procedure.RampUpInterval
	}
	if c.Procedure.HoldDuration == 0 {
		c.Procedure.HoldDuration = def.Procedure.HoldDuration
	}
	if c.Procedure.RampDownInterval == 0 {
		c.Procedure.RampDownInterval = def.Procedure.RampDownInterval
	}

	if c.Calibration.TareSamples == 0 {
		c.Calibration.TareSamples = def.Calibration.TareSamples
	}
	if c.Calibration.FilterSamples == 0 {
		c.Calibration.FilterSamples = def.Calibration.FilterSamples
	}

	if c.Sensors.VRef == 0 {
		c.Sensors.VRef = def.Sensors.VRef
	}
	if c.Sensors.DividerR2 == 0 {
		c.Sensors.DividerR1 = def.Sensors.DividerR1
		c.Sensors.DividerR2 = def.Sensors.DividerR2
	}
	if c.Sensors.CurrentMVPerAmp == 0 {
		c.Sensors.CurrentMVPerAmp = def.Sensors.CurrentMVPerAmp
	}
	if c.Sensors.NTCBeta == 0 {
		c.Sensors.NTCSeriesR = def.Sensors.NTCSeriesR
		c.Sensors.NTCNominalR = def.Sensors.NTCNominalR
		c.Sensors.NTCNominalC = def.Sensors.NTCNominalC
		c.Sensors.NTCBeta = def.Sensors.NTCBeta
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
	if c.Mock.TimeConstant == 0 {
		c.Mock.TimeConstant = def.Mock.TimeConstant
	}
	if c.Mock.Gain == 0 {
		c.Mock.Gain = def.Mock.Gain
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = def.MQTT.TopicPrefix
	}
}
