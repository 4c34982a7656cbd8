package publish

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/thruststand/pkg/telemetry"
)

// TestPublisher_RunGracefulShutdown tests that Run publishes everything and
// returns once the input channel closes.
func TestPublisher_RunGracefulShutdown(t *testing.T) {
	client := newFakeClient()
	p := NewWithClient(client, "thruststand", nil)

	in := make(chan telemetry.Record, 10)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(in)
	}()

	for i := range 5 {
		in <- telemetry.Record{Time: float64(i)}
	}
	close(in)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return within timeout")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Len(t, client.published, 5)
}
