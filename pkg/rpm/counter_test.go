package rpm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidMagnets(t *testing.T) {
	for _, m := range []int{0, -8} {
		c, err := New(m, time.Second)
		assert.ErrorIs(t, err, ErrInvalidMagnets)
		assert.Nil(t, c)
	}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		count   uint32
		magnets float64
		elapsed time.Duration
		want    float64
	}{
		{"733 edges over one second", 733, 8, time.Second, 5497.5},
		{"one revolution per second", 8, 8, time.Second, 60},
		{"no edges", 0, 8, time.Second, 0},
		{"longer interval", 160, 8, 2 * time.Second, 600},
		{"zero elapsed", 100, 8, 0, 0},
		{"single magnet", 50, 1, 1500 * time.Millisecond, 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Compute(tt.count, tt.magnets, tt.elapsed), 1e-9)
		})
	}
}

func TestCounter_RecomputeResetsCount(t *testing.T) {
	c, err := New(DefaultMagnets, DefaultInterval)
	require.NoError(t, err)

	for range 733 {
		c.OnEdge()
	}
	assert.InDelta(t, 5497.5, c.Recompute(time.Second), 1e-9)
	assert.InDelta(t, 5497.5, c.RPM(), 1e-9)

	// Not cumulative: the next interval starts from zero
	assert.Equal(t, float64(0), c.Recompute(time.Second))
	assert.Equal(t, float64(0), c.RPM())
}

func TestCounter_UpdateInterval(t *testing.T) {
	c, err := New(DefaultMagnets, DefaultInterval)
	require.NoError(t, err)

	t0 := time.Unix(1000, 0)
	assert.False(t, c.Update(t0)) // first call only starts the interval

	for range 80 {
		c.OnEdge()
	}
	assert.False(t, c.Update(t0.Add(999*time.Millisecond)))
	assert.Equal(t, float64(0), c.RPM())

	assert.True(t, c.Update(t0.Add(time.Second)))
	assert.InDelta(t, 600.0, c.RPM(), 1e-9)

	assert.False(t, c.Update(t0.Add(1500*time.Millisecond)))
	assert.True(t, c.Update(t0.Add(2*time.Second)))
	assert.Equal(t, float64(0), c.RPM())
}

func TestCounter_ConcurrentEdgesNotLost(t *testing.T) {
	c, err := New(1, time.Second)
	require.NoError(t, err)

	const producers = 8
	const perProducer = 1000

	// One magnet over one minute: rpm equals the edge count
	var total float64
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				total += c.Recompute(time.Minute)
			}
		}
	}()

	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perProducer {
				c.OnEdge()
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-done

	total += c.Recompute(time.Minute)
	assert.InDelta(t, float64(producers*perProducer), total, 1e-6)
}
