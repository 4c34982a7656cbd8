// Package rig simulates the thrust stand hardware: motor, ESC, load cell
// amplifier, hall sensor and analog front end.
package rig

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/itohio/thruststand/pkg/config"
	"github.com/itohio/thruststand/pkg/sensor"
	"github.com/itohio/thruststand/pkg/stand"
	"github.com/itohio/thruststand/pkg/throttle"
)

const (
	// DefaultTickRate is the physics update period.
	DefaultTickRate = 5 * time.Millisecond

	thermalTimeConstant = 60.0 // seconds
	heatingPerWatt      = 0.06 // °C steady-state rise per W
)

// Rig simulates a motor and propeller on a thrust stand.
type Rig struct {
	cfg     *config.MockConfig
	sensors sensor.Params
	magnets int

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup

	// Simulation state
	startTime   time.Time
	lastStep    time.Time
	pulse       uint32
	rpm         float64
	thrust      float64
	current     float64
	voltage     float64
	temperature float64
	edgeFrac    float64
	onEdge      func()

	// Amplifier conversion
	lastConv  time.Time
	conv      int32
	convReady bool
	converted bool
}

// Ensure Rig drives the stand's ESC and hall sensor.
var (
	_ throttle.Output = (*Rig)(nil)
	_ stand.Hall      = (*Rig)(nil)
)

// New creates a simulated rig.
func New(cfg *config.MockConfig, sensors sensor.Params, magnets int) *Rig {
	if cfg == nil {
		cfg = &config.Default().Mock
	}
	if magnets <= 0 {
		magnets = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Rig{
		cfg:         cfg,
		sensors:     sensors,
		magnets:     magnets,
		ctx:         ctx,
		cancel:      cancel,
		pulse:       throttle.MinPulse,
		voltage:     cfg.BatteryVoltage,
		temperature: cfg.AmbientC,
	}
}

// Hardware returns the rig's peripherals.
func (r *Rig) Hardware() stand.Hardware {
	return stand.Hardware{
		Amplifier: amplifier{r},
		ESC:       r,
		Hall:      r,
		Analog:    analog{r},
	}
}

// Start powers the rig up and starts the physics goroutine.
func (r *Rig) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("already running")
	}

	r.running = true
	r.reset(time.Now())

	r.wg.Add(1)
	go r.simulate()

	return nil
}

// Close stops the physics goroutine.
func (r *Rig) Close() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

// Running returns whether the physics goroutine is active.
func (r *Rig) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Rig) reset(now time.Time) {
	r.startTime = now
	r.lastStep = now
	r.lastConv = now
	r.converted = false
	r.convReady = false
}

// SetPulseWidth implements the ESC input.
func (r *Rig) SetPulseWidth(us uint32) error {
	if us < throttle.MinPulse || us > throttle.MaxPulse {
		return fmt.Errorf("pulse width %dus outside %d-%dus", us, throttle.MinPulse, throttle.MaxPulse)
	}
	r.mu.Lock()
	r.pulse = us
	r.mu.Unlock()
	return nil
}

// Listen attaches the hall sensor edge callback.
func (r *Rig) Listen(onEdge func()) error {
	r.mu.Lock()
	r.onEdge = onEdge
	r.mu.Unlock()
	return nil
}

// State is a snapshot of the simulated physical quantities.
type State struct {
	Pulse       uint32
	RPM         float64
	Thrust      float64 // g
	Current     float64 // A
	Voltage     float64 // V
	Temperature float64 // °C
}

// Snapshot returns the current physical state.
func (r *Rig) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Pulse:       r.pulse,
		RPM:         r.rpm,
		Thrust:      r.thrust,
		Current:     r.current,
		Voltage:     r.voltage,
		Temperature: r.temperature,
	}
}

func (r *Rig) simulate() {
	defer r.wg.Done()

	ticker := time.NewTicker(DefaultTickRate)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			r.step(now)
		}
	}
}

// step advances the motor model to now and delivers hall edges.
func (r *Rig) step(now time.Time) {
	r.mu.Lock()
	dt := now.Sub(r.lastStep).Seconds()
	if dt <= 0 {
		r.mu.Unlock()
		return
	}
	r.lastStep = now

	level := float64(r.pulse-throttle.MinPulse) / float64(throttle.MaxPulse-throttle.MinPulse)

	// First order lag towards the commanded speed
	target := level * r.cfg.MaxRPM
	tau := r.cfg.TimeConstant.Seconds()
	if tau > 0 {
		r.rpm += (target - r.rpm) * (1 - math.Exp(-dt/tau))
	} else {
		r.rpm = target
	}

	if r.cfg.MaxRPM > 0 {
		ratio := r.rpm / r.cfg.MaxRPM
		r.thrust = r.cfg.MaxThrust * ratio * ratio
	}
	r.current = r.cfg.MaxCurrent * math.Pow(level, 1.5)
	r.voltage = r.cfg.BatteryVoltage - r.current*r.cfg.Resistance

	power := r.voltage * r.current
	steady := r.cfg.AmbientC + power*heatingPerWatt
	r.temperature += (steady - r.temperature) * dt / thermalTimeConstant

	r.edgeFrac += r.rpm / 60 * float64(r.magnets) * dt
	edges := int(r.edgeFrac)
	r.edgeFrac -= float64(edges)
	onEdge := r.onEdge

	r.convert(now)
	r.mu.Unlock()

	if onEdge != nil {
		for range edges {
			onEdge()
		}
	}
}

// convert latches a new amplifier conversion when one is due. Caller holds mu.
func (r *Rig) convert(now time.Time) {
	if r.cfg.FailStartup || now.Sub(r.startTime) < r.cfg.StartupDelay {
		return
	}
	if r.converted && now.Sub(r.lastConv) < r.cfg.SampleRate {
		return
	}

	elapsed := now.Sub(r.startTime)
	noise := (math.Sin(float64(elapsed.Nanoseconds())*0.001) +
		math.Cos(float64(elapsed.Nanoseconds())*0.0013)) *
		r.cfg.Noise * 0.5

	r.conv = r.cfg.Offset + int32(math.Round(r.thrust*r.cfg.Gain+noise))
	r.convReady = true
	r.converted = true
	r.lastConv = now
}

type amplifier struct{ r *Rig }

// Ready reports whether a conversion is waiting.
func (a amplifier) Ready() bool {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	return a.r.convReady
}

// Read returns the latest conversion.
func (a amplifier) Read() (int32, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	if !a.r.converted {
		return 0, fmt.Errorf("amplifier not ready")
	}
	a.r.convReady = false
	return a.r.conv, nil
}

type analog struct{ r *Rig }

// Read encodes the simulated quantity on ch as ADC counts.
func (a analog) Read(ch stand.Channel) uint16 {
	s := a.r.Snapshot()
	p := a.r.sensors
	switch ch {
	case stand.VoltageChannel:
		return VoltageADC(p, s.Voltage)
	case stand.CurrentChannel:
		return CurrentADC(p, s.Current)
	case stand.TemperatureChannel:
		return TemperatureADC(p, s.Temperature)
	}
	return 0
}

func toADC(volts float64, p sensor.Params) uint16 {
	full := float64(uint32(1)<<uint(p.ADCBits) - 1)
	v := math.Round(volts / float64(p.VRef) * full)
	return uint16(math.Max(0, math.Min(full, v)))
}

// VoltageADC encodes a battery voltage as seen through the divider.
func VoltageADC(p sensor.Params, volts float64) uint16 {
	r1, r2 := float64(p.DividerR1), float64(p.DividerR2)
	return toADC(volts*r2/(r1+r2), p)
}

// CurrentADC encodes a current as seen by the hall sensor.
func CurrentADC(p sensor.Params, amps float64) uint16 {
	return toADC(float64(p.CurrentZeroVolts)+amps*float64(p.CurrentMVPerAmp)/1000, p)
}

// TemperatureADC encodes a temperature as seen through the thermistor divider.
func TemperatureADC(p sensor.Params, celsius float64) uint16 {
	const kelvin = 273.15
	t0 := float64(p.NTCNominalC) + kelvin
	r := float64(p.NTCNominalR) * math.Exp(float64(p.NTCBeta)*(1/(celsius+kelvin)-1/t0))
	vpin := float64(p.VRef) * r / (r + float64(p.NTCSeriesR))
	return toADC(vpin, p)
}
