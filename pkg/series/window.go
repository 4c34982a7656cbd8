package series

import (
	"sync"
	"time"

	"github.com/itohio/thruststand/pkg/telemetry"
)

// DefaultWindow is the default history length.
const DefaultWindow = 5 * time.Minute

// Window keeps the records received within a time window and notifies
// listeners on every update.
type Window struct {
	// FIFO ordered oldest first, trimmed by receive time
	records  []telemetry.Record
	duration time.Duration
	mu       sync.RWMutex

	callbacks []func(records []telemetry.Record)
	cbMu      sync.RWMutex

	// Set when the input channel closes, prevents further callbacks
	shutdown bool
}

// NewWindow creates a Window holding the given duration of history.
func NewWindow(duration time.Duration) *Window {
	if duration <= 0 {
		duration = DefaultWindow
	}
	return &Window{
		records:  make([]telemetry.Record, 0),
		duration: duration,
	}
}

// ProcessRecords consumes input until it closes. Run it in a goroutine.
func (w *Window) ProcessRecords(input <-chan telemetry.Record) {
	for rec := range input {
		w.Add(rec)
	}
	w.mu.Lock()
	w.shutdown = true
	w.mu.Unlock()
}

// Add appends rec and drops records older than the window.
func (w *Window) Add(rec telemetry.Record) {
	w.mu.Lock()
	w.records = append(w.records, rec)

	cutoff := rec.Received.Add(-w.duration)
	drop := 0
	for drop < len(w.records) && !w.records[drop].Received.After(cutoff) {
		drop++
	}
	if drop > 0 {
		w.records = w.records[drop:]
	}

	shouldNotify := !w.shutdown
	w.mu.Unlock()

	if shouldNotify {
		w.notify()
	}
}

// Records returns a copy of the buffered records, oldest first.
func (w *Window) Records() []telemetry.Record {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]telemetry.Record, len(w.records))
	copy(out, w.records)
	return out
}

// Len returns the number of buffered records.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.records)
}

// Reset clears the history, e.g. when a new test starts.
func (w *Window) Reset() {
	w.mu.Lock()
	w.records = w.records[:0]
	w.mu.Unlock()
}

// OnUpdate registers a callback invoked with a snapshot after each record.
func (w *Window) OnUpdate(cb func(records []telemetry.Record)) {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

func (w *Window) notify() {
	w.cbMu.RLock()
	callbacks := make([]func([]telemetry.Record), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.cbMu.RUnlock()

	if len(callbacks) == 0 {
		return
	}

	snapshot := w.Records()
	for _, cb := range callbacks {
		cb(snapshot)
	}
}
