package series

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/thruststand/pkg/telemetry"
)

func rec(t, throttle, thrust float64) telemetry.Record {
	return telemetry.Record{Time: t, Throttle: throttle, Thrust: thrust, TemperatureValid: true}
}

func TestParseField(t *testing.T) {
	for i, name := range fieldNames {
		f, err := ParseField(name)
		require.NoError(t, err)
		assert.Equal(t, Field(i), f)
		assert.Equal(t, name, f.String())
	}

	f, err := ParseField("RPM")
	require.NoError(t, err)
	assert.Equal(t, RPM, f)

	_, err = ParseField("torque")
	assert.Error(t, err)
	assert.Equal(t, "Field(42)", Field(42).String())
}

func TestField_Of(t *testing.T) {
	r := telemetry.Record{Thrust: 1, RPM: 2, Temperature: 3, Voltage: 4, Current: 5, Power: 6, Throttle: 7}
	for i, f := range []Field{Thrust, RPM, Temperature, Voltage, Current, Power, Throttle} {
		assert.Equal(t, float64(i+1), f.Of(r))
	}
}

func TestDownsample(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		maxPoints int
		wantLen   int
	}{
		{name: "fewer than max", n: 5, maxPoints: 10, wantLen: 5},
		{name: "equal", n: 10, maxPoints: 10, wantLen: 10},
		{name: "decimated", n: 100, maxPoints: 10, wantLen: 10},
		{name: "empty", n: 0, maxPoints: 10, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := make([]telemetry.Record, tt.n)
			for i := range records {
				records[i] = rec(float64(i), 0, 0)
			}

			got := Downsample(nil, records, tt.maxPoints)
			require.Len(t, got, tt.wantLen)
			if tt.wantLen > 0 {
				assert.Equal(t, 0.0, got[0].Time)
			}
		})
	}
}

func TestDownsample_ReusesDst(t *testing.T) {
	records := make([]telemetry.Record, 50)
	dst := make([]telemetry.Record, 0, 20)

	got := Downsample(dst, records, 10)
	assert.Len(t, got, 10)
	assert.Equal(t, cap(dst), cap(got))
}

func TestDownsample_Points(t *testing.T) {
	points := make([]Point, 10)
	for i := range points {
		points[i] = Point{X: float64(i)}
	}

	got := Downsample(nil, points, 4)
	assert.Equal(t, []Point{{X: 0}, {X: 2}, {X: 5}, {X: 7}}, got)

	assert.Len(t, Downsample(nil, points, 0), 10, "zero means unbounded")
}

func TestDecimateByTime(t *testing.T) {
	records := []telemetry.Record{
		rec(0.0, 0, 1),
		rec(0.1, 0, 2),
		rec(0.4, 0, 3),
		rec(0.5, 0, 4),
		rec(0.6, 0, 5),
		rec(1.2, 0, 6),
	}

	got := DecimateByTime(records, Thrust, 0.5)
	assert.Equal(t, []Point{
		{X: 0.4, Y: 3},
		{X: 0.6, Y: 5},
		{X: 1.2, Y: 6},
	}, got)

	assert.Nil(t, DecimateByTime(nil, Thrust, 0.5))
}

func TestThrottleDomain(t *testing.T) {
	records := []telemetry.Record{
		rec(0, 10, 100),
		rec(1, 20, 250),
		rec(2, 10, 110),
		rec(3, 5, 40),
		rec(4, 20, 260),
	}

	got := ThrottleDomain(records, Thrust)
	assert.Equal(t, []Point{
		{X: 5, Y: 40},
		{X: 10, Y: 110},
		{X: 20, Y: 260},
	}, got)
}

func TestAverage(t *testing.T) {
	records := []telemetry.Record{
		{Time: 1, Thrust: 10, RPM: 100, Voltage: 16, Current: 2, Power: 32, Temperature: 20, TemperatureValid: true, Throttle: 10},
		{Time: 2, Thrust: 20, RPM: 300, Voltage: 15, Current: 4, Power: 60, Temperature: 0, TemperatureValid: false, Throttle: 20},
	}

	avg := Average(records)
	assert.Equal(t, 2.0, avg.Time)
	assert.Equal(t, 20.0, avg.Throttle)
	assert.Equal(t, 15.0, avg.Thrust)
	assert.Equal(t, 200.0, avg.RPM)
	assert.Equal(t, 15.5, avg.Voltage)
	assert.Equal(t, 46.0, avg.Power)
	assert.Equal(t, 20.0, avg.Temperature, "invalid temperature excluded")
	assert.True(t, avg.TemperatureValid)

	assert.Equal(t, telemetry.Record{}, Average(nil))
}

func TestNewAveraging(t *testing.T) {
	in := make(chan telemetry.Record)
	out := NewAveraging(2, 10, nil)(in)

	go func() {
		defer close(in)
		for _, v := range []float64{10, 20, 40} {
			in <- rec(v, 0, v)
		}
	}()

	var got []float64
	for r := range out {
		got = append(got, r.Thrust)
	}
	assert.Equal(t, []float64{10, 15, 30}, got)
}

func TestWindow_TrimsByReceiveTime(t *testing.T) {
	w := NewWindow(time.Second)
	t0 := time.Unix(100, 0)

	for i := range 20 {
		r := rec(float64(i)*0.1, 0, float64(i))
		r.Received = t0.Add(time.Duration(i) * 100 * time.Millisecond)
		w.Add(r)
	}

	got := w.Records()
	require.Len(t, got, 10)
	assert.Equal(t, 10.0, got[0].Thrust)
	assert.Equal(t, 19.0, got[len(got)-1].Thrust)
	assert.Equal(t, 10, w.Len())

	w.Reset()
	assert.Equal(t, 0, w.Len())
}

func TestWindow_OnUpdate(t *testing.T) {
	w := NewWindow(0)

	var mu sync.Mutex
	var lens []int
	w.OnUpdate(func(records []telemetry.Record) {
		mu.Lock()
		lens = append(lens, len(records))
		mu.Unlock()
	})

	now := time.Now()
	for i := range 3 {
		r := rec(float64(i), 0, 0)
		r.Received = now.Add(time.Duration(i) * time.Millisecond)
		w.Add(r)
	}

	assert.Equal(t, []int{1, 2, 3}, lens)
}

func TestSummarize(t *testing.T) {
	records := []telemetry.Record{
		{Time: 1, Thrust: 100, RPM: 4000, Voltage: 16.5, Current: 5, Power: 82.5, Temperature: 24, TemperatureValid: true, Throttle: 30},
		{Time: 5, Thrust: 900, RPM: 11000, Voltage: 15.2, Current: 28, Power: 425.6, Temperature: 31, TemperatureValid: true, Throttle: 100},
		{Time: 9, Thrust: 880, RPM: 11200, Voltage: 15.1, Current: 29, Power: 437.9, Temperature: 0, TemperatureValid: false, Throttle: 100},
	}

	s := Summarize(records)
	assert.Equal(t, 3, s.Records)
	assert.Equal(t, 8.0, s.Duration)
	assert.Equal(t, 900.0, s.PeakThrust)
	assert.Equal(t, 100.0, s.PeakThrottle)
	assert.Equal(t, 11200.0, s.MaxRPM)
	assert.Equal(t, 437.9, s.MaxPower)
	assert.Equal(t, 29.0, s.MaxCurrent)
	assert.Equal(t, 15.1, s.MinVoltage)
	assert.Equal(t, 31.0, s.MaxTemperature)
	assert.InDelta(t, 900/425.6, s.Efficiency, 1e-9)

	assert.Equal(t, Summary{}, Summarize(nil))
}
