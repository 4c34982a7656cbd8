package stand

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/thruststand/pkg/calibration"
	"github.com/itohio/thruststand/pkg/loadcell"
	"github.com/itohio/thruststand/pkg/procedure"
	"github.com/itohio/thruststand/pkg/telemetry"
)

type fakeAmp struct {
	mu    sync.Mutex
	value int32
	never bool
}

func (a *fakeAmp) Ready() bool { return !a.never }

func (a *fakeAmp) Read() (int32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value, nil
}

func (a *fakeAmp) set(v int32) {
	a.mu.Lock()
	a.value = v
	a.mu.Unlock()
}

type fakeESC struct {
	mu     sync.Mutex
	pulses []uint32
	err    error
}

func (e *fakeESC) SetPulseWidth(us uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.pulses = append(e.pulses, us)
	return nil
}

func (e *fakeESC) fail(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

func (e *fakeESC) last() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pulses) == 0 {
		return 0
	}
	return e.pulses[len(e.pulses)-1]
}

type fakeHall struct {
	onEdge func()
}

func (h *fakeHall) Listen(onEdge func()) error {
	h.onEdge = onEdge
	return nil
}

type fakeAnalog map[Channel]uint16

func (a fakeAnalog) Read(ch Channel) uint16 { return a[ch] }

type testStand struct {
	*Stand
	amp    *fakeAmp
	esc    *fakeESC
	hall   *fakeHall
	analog fakeAnalog
	out    *bytes.Buffer
	t0     time.Time
}

func newTestStand(t *testing.T, cfg Config) *testStand {
	t.Helper()
	ts := &testStand{
		amp:  &fakeAmp{value: 8400},
		esc:  &fakeESC{},
		hall: &fakeHall{},
		analog: fakeAnalog{
			VoltageChannel:     688,
			CurrentChannel:     512,
			TemperatureChannel: 511,
		},
		out: &bytes.Buffer{},
		t0:  time.Unix(1000, 0),
	}
	s, err := New(cfg, Hardware{Amplifier: ts.amp, ESC: ts.esc, Hall: ts.hall, Analog: ts.analog}, ts.out)
	require.NoError(t, err)
	ts.Stand = s
	return ts
}

func (ts *testStand) boot(t *testing.T) {
	t.Helper()
	require.NoError(t, ts.Boot(context.Background(), ts.t0))
}

func (ts *testStand) at(d time.Duration) time.Time {
	return ts.t0.Add(d)
}

// steps runs Step every dt over (from, to].
func (ts *testStand) steps(from, to, dt time.Duration) {
	for d := from + dt; d <= to; d += dt {
		ts.Step(ts.at(d))
	}
}

func (ts *testStand) records(t *testing.T) []telemetry.Record {
	t.Helper()
	var recs []telemetry.Record
	for _, line := range strings.Split(ts.out.String(), "\n") {
		if rec, err := telemetry.ParseRecord(line); err == nil {
			recs = append(recs, rec)
		}
	}
	return recs
}

func TestNew_MissingHardware(t *testing.T) {
	_, err := New(DefaultConfig(), Hardware{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrMissingHardware)
}

func TestNew_InvalidMagnets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MagnetsPerRevolution = 0
	_, err := New(cfg, Hardware{Amplifier: &fakeAmp{}, ESC: &fakeESC{}, Hall: &fakeHall{}, Analog: fakeAnalog{}}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestBoot_StartupTimeoutHalts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartupTimeout = 20 * time.Millisecond
	ts := newTestStand(t, cfg)
	ts.amp.never = true

	err := ts.Boot(context.Background(), ts.t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHalted))
	assert.True(t, errors.Is(err, loadcell.ErrStartupTimeout))
	assert.ErrorIs(t, ts.Halted(), ErrHalted)
	assert.Contains(t, ts.out.String(), "fatal:")

	pulses := len(ts.esc.pulses)
	ts.out.Reset()
	ts.HandleLine("50", ts.at(10*time.Second))
	ts.steps(0, time.Second, 10*time.Millisecond)

	assert.Empty(t, ts.out.String(), "halted stand must stay silent")
	assert.Len(t, ts.esc.pulses, pulses)
	assert.Equal(t, uint32(1000), ts.esc.last())

	assert.ErrorIs(t, ts.Run(context.Background(), strings.NewReader("")), ErrHalted)
}

func TestBoot_ArmsESC(t *testing.T) {
	ts := newTestStand(t, DefaultConfig())
	ts.boot(t)

	assert.Equal(t, []uint32{1000}, ts.esc.pulses)
	assert.NotNil(t, ts.hall.onEdge)
	assert.Contains(t, ts.out.String(), "ready")
	assert.Equal(t, calibration.Idle, ts.CalibrationState())
}

func TestBoot_CalibrateOnStartup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CalibrateOnStartup = true
	ts := newTestStand(t, cfg)
	ts.boot(t)

	assert.Equal(t, calibration.AwaitingTare, ts.CalibrationState())
}

func TestTelemetry_HeaderOnceAndCadence(t *testing.T) {
	ts := newTestStand(t, DefaultConfig())
	ts.boot(t)
	ts.out.Reset()

	ts.steps(0, 2*time.Second, 10*time.Millisecond)

	out := ts.out.String()
	assert.Equal(t, 1, strings.Count(out, telemetry.Header))
	assert.True(t, strings.HasPrefix(out, telemetry.Header+"\n"))

	recs := ts.records(t)
	require.Len(t, recs, 20)
	for i := 1; i < len(recs); i++ {
		assert.GreaterOrEqual(t, recs[i].Time-recs[i-1].Time, 0.0999)
	}
	assert.InDelta(t, 16.81, recs[0].Voltage, 0.01)
	assert.InDelta(t, 25.0, recs[0].Temperature, 0.2)
	assert.InDelta(t, recs[0].Voltage*recs[0].Current, recs[0].Power, 0.2)
}

func TestTelemetry_NoThrustBeforeBootTare(t *testing.T) {
	ts := newTestStand(t, DefaultConfig())
	ts.boot(t)

	// The unloaded cell reads 8400 counts, 20 g at the default factor.
	ts.steps(0, 30*time.Millisecond, 5*time.Millisecond)
	recs := ts.records(t)
	require.NotEmpty(t, recs)
	assert.Equal(t, 0.0, recs[0].Thrust)

	ts.steps(30*time.Millisecond, time.Second, 5*time.Millisecond)
	assert.Contains(t, ts.out.String(), "tare complete")
	for _, rec := range ts.records(t) {
		assert.Equal(t, 0.0, rec.Thrust, "t=%.2f", rec.Time)
	}

	ts.amp.set(8400 + 4200)
	ts.steps(time.Second, 1200*time.Millisecond, 5*time.Millisecond)
	assert.InDelta(t, 10.0, ts.Last().Thrust, 0.01)
}

func TestTelemetry_TemperatureFault(t *testing.T) {
	ts := newTestStand(t, DefaultConfig())
	ts.boot(t)
	ts.steps(0, 200*time.Millisecond, 10*time.Millisecond)

	ts.analog[TemperatureChannel] = 0
	ts.out.Reset()
	ts.steps(200*time.Millisecond, time.Second, 10*time.Millisecond)

	out := ts.out.String()
	assert.NotContains(t, strings.ToLower(out), "nan")
	assert.Equal(t, 1, strings.Count(out, telemetry.TemperatureWarning))
	for _, rec := range ts.records(t) {
		assert.InDelta(t, 25.0, rec.Temperature, 0.2, "last good value is held")
	}
}

func TestRPM(t *testing.T) {
	ts := newTestStand(t, DefaultConfig())
	ts.boot(t)

	for range 733 {
		ts.hall.onEdge()
	}
	ts.steps(0, time.Second, 100*time.Millisecond)
	ts.steps(time.Second, 1100*time.Millisecond, 100*time.Millisecond)

	assert.Equal(t, 5497.5, ts.Last().RPM)
}

func TestManualThrottle_Arming(t *testing.T) {
	ts := newTestStand(t, DefaultConfig())
	ts.boot(t)
	ts.out.Reset()

	ts.HandleLine("50", ts.at(time.Second))
	assert.Contains(t, ts.out.String(), "error: esc is arming")
	assert.Equal(t, 0.0, ts.Throttle())
	assert.Equal(t, uint32(1000), ts.esc.last())

	ts.HandleLine("50", ts.at(3*time.Second))
	assert.Equal(t, 50.0, ts.Throttle())
	assert.Equal(t, uint32(1500), ts.esc.last())

	ts.HandleLine("120", ts.at(4*time.Second))
	assert.Contains(t, ts.out.String(), "ignored:")
	assert.Equal(t, 50.0, ts.Throttle())

	ts.HandleLine("z", ts.at(5*time.Second))
	assert.Equal(t, 0.0, ts.Throttle())
}

func TestProcedure_FullRun(t *testing.T) {
	ts := newTestStand(t, DefaultConfig())
	ts.boot(t)

	ts.HandleLine("procedure", ts.at(0))
	assert.Equal(t, procedure.RampingUp, ts.ProcedureState())

	ts.steps(0, 100*time.Second, 50*time.Millisecond)
	assert.Equal(t, procedure.Holding, ts.ProcedureState())
	assert.Equal(t, 100.0, ts.Throttle())
	assert.Equal(t, uint32(2000), ts.esc.last())

	ts.steps(100*time.Second, 115*time.Second-50*time.Millisecond, 50*time.Millisecond)
	assert.Equal(t, procedure.RampingDown, ts.ProcedureState())

	ts.steps(115*time.Second-50*time.Millisecond, 115*time.Second, 50*time.Millisecond)
	assert.Equal(t, procedure.Idle, ts.ProcedureState())
	assert.Equal(t, 0.0, ts.Throttle())
	assert.Equal(t, uint32(1000), ts.esc.last())
	assert.Contains(t, ts.out.String(), "procedure: complete")
}

func TestProcedure_ThrottleErrorReportedOnce(t *testing.T) {
	ts := newTestStand(t, DefaultConfig())
	ts.boot(t)
	ts.HandleLine("procedure", ts.at(0))

	ts.esc.fail(errors.New("pwm fault"))
	ts.out.Reset()
	ts.steps(0, 6*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, strings.Count(ts.out.String(), "error:"))
	assert.Equal(t, 0.0, ts.Throttle())

	ts.esc.fail(nil)
	ts.steps(6*time.Second, 6100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 5.0, ts.Throttle())

	ts.esc.fail(errors.New("pwm fault"))
	ts.out.Reset()
	ts.steps(6100*time.Millisecond, 12*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, strings.Count(ts.out.String(), "error:"), "new streak reports again")
}

func TestProcedure_Stop(t *testing.T) {
	tests := []struct {
		name          string
		interruptible bool
		stopAt        time.Duration
		wantIdle      bool
	}{
		{name: "ramp-up", stopAt: 30 * time.Second, wantIdle: true},
		{name: "ramp-down", stopAt: 108 * time.Second, wantIdle: true},
		{name: "hold is deferred", stopAt: 103 * time.Second, wantIdle: false},
		{name: "interruptible hold", interruptible: true, stopAt: 103 * time.Second, wantIdle: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Procedure.InterruptibleHold = tt.interruptible
			ts := newTestStand(t, cfg)
			ts.boot(t)
			ts.HandleLine("procedure", ts.at(0))
			ts.steps(0, tt.stopAt, 100*time.Millisecond)

			ts.HandleLine("stop", ts.at(tt.stopAt))
			if tt.wantIdle {
				assert.Equal(t, procedure.Idle, ts.ProcedureState())
				assert.Equal(t, 0.0, ts.Throttle())
				return
			}

			assert.Contains(t, ts.out.String(), "stop latched")
			assert.Equal(t, 100.0, ts.Throttle())

			ts.steps(tt.stopAt, 105*time.Second, 100*time.Millisecond)
			assert.Equal(t, procedure.Idle, ts.ProcedureState())
			assert.Equal(t, 0.0, ts.Throttle())
		})
	}
}

func TestProcedure_ManualThrottleCancels(t *testing.T) {
	ts := newTestStand(t, DefaultConfig())
	ts.boot(t)
	ts.HandleLine("procedure", ts.at(0))
	ts.steps(0, 20*time.Second, 100*time.Millisecond)
	require.Equal(t, procedure.RampingUp, ts.ProcedureState())

	ts.HandleLine("30", ts.at(20*time.Second))
	assert.Equal(t, procedure.Idle, ts.ProcedureState())
	assert.Equal(t, 30.0, ts.Throttle())

	ts.steps(20*time.Second, 40*time.Second, 100*time.Millisecond)
	assert.Equal(t, 30.0, ts.Throttle(), "cancelled procedure must not keep ramping")
}

func TestCalibration_Sequence(t *testing.T) {
	ts := newTestStand(t, DefaultConfig())
	ts.boot(t)

	ts.HandleLine("cal", ts.at(0))
	assert.Equal(t, calibration.AwaitingTare, ts.CalibrationState())

	// Telemetry keeps flowing while waiting on the operator.
	ts.out.Reset()
	ts.steps(0, time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, ts.records(t))

	ts.HandleLine("t", ts.at(time.Second))
	assert.Equal(t, calibration.Taring, ts.CalibrationState())
	ts.steps(time.Second, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, calibration.AwaitingMass, ts.CalibrationState())

	ts.amp.set(8400 + 100*380)
	ts.steps(2*time.Second, 3*time.Second, 10*time.Millisecond)

	// Stop still works during calibration and does not disturb it.
	ts.HandleLine("s", ts.at(3*time.Second))
	assert.Equal(t, calibration.AwaitingMass, ts.CalibrationState())

	ts.HandleLine("100", ts.at(3*time.Second))
	assert.Equal(t, calibration.Idle, ts.CalibrationState())
	assert.InDelta(t, 380.0, ts.ScaleFactor(), 1e-9)
	assert.Equal(t, 0.0, ts.Throttle(), "mass must not be taken as a throttle command")

	ts.amp.set(8400 + 50*380)
	ts.steps(3*time.Second, 4*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 50.0, ts.Last().Thrust, 0.01)
}

func TestCalibration_RejectsNonPositiveMass(t *testing.T) {
	ts := newTestStand(t, DefaultConfig())
	ts.boot(t)
	ts.HandleLine("r", ts.at(0))
	ts.HandleLine("t", ts.at(0))
	ts.steps(0, time.Second, 10*time.Millisecond)
	require.Equal(t, calibration.AwaitingMass, ts.CalibrationState())

	ts.out.Reset()
	ts.HandleLine("0", ts.at(time.Second))
	assert.Contains(t, ts.out.String(), "ignored:")
	assert.Equal(t, calibration.AwaitingMass, ts.CalibrationState())
	assert.Equal(t, 420.0, ts.ScaleFactor())
}

func TestFactorOverride(t *testing.T) {
	ts := newTestStand(t, DefaultConfig())
	ts.boot(t)

	ts.HandleLine("c 512.5", ts.at(0))
	assert.Equal(t, 512.5, ts.ScaleFactor())

	ts.HandleLine("C", ts.at(0))
	assert.Equal(t, calibration.AwaitingFactor, ts.CalibrationState())
	ts.HandleLine("-3", ts.at(0))
	assert.Equal(t, calibration.AwaitingFactor, ts.CalibrationState())
	ts.HandleLine("400", ts.at(0))
	assert.Equal(t, calibration.Idle, ts.CalibrationState())
	assert.Equal(t, 400.0, ts.ScaleFactor())
}

func TestStandaloneTare(t *testing.T) {
	ts := newTestStand(t, DefaultConfig())
	ts.boot(t)
	ts.amp.set(9000)
	ts.steps(0, 100*time.Millisecond, 10*time.Millisecond)

	ts.HandleLine("t", ts.at(100*time.Millisecond))
	ts.steps(100*time.Millisecond, time.Second, 10*time.Millisecond)

	assert.Contains(t, ts.out.String(), "tare complete")
	assert.InDelta(t, 0.0, ts.Last().Thrust, 1e-9)
}
