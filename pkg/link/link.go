// Package link connects the host to a thrust stand, either over a serial
// port or to a simulated stand running in-process.
package link

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/itohio/thruststand/pkg/telemetry"
)

// DefaultBufferSize is the default size for the record and diagnostic channels.
const DefaultBufferSize = 100

// Link is a connection to a stand (real or simulated).
type Link interface {
	Connect() error
	Close() error
	// Records delivers parsed telemetry rows. Closed when the link closes.
	Records() <-chan telemetry.Record
	// Diagnostics delivers every non-telemetry line. Closed when the link closes.
	Diagnostics() <-chan string
	// Send writes one operator command line.
	Send(cmd string) error
	IsConnected() bool
}

// Ensure Serial implements Link.
var _ Link = (*Serial)(nil)

// Ensure Loopback implements Link.
var _ Link = (*Loopback)(nil)

// stream splits a stand's output into telemetry records and diagnostics.
type stream struct {
	logger      *slog.Logger
	records     chan telemetry.Record
	diagnostics chan string
}

func newStream(bufSize int, logger *slog.Logger) *stream {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &stream{
		logger:      logger,
		records:     make(chan telemetry.Record, bufSize),
		diagnostics: make(chan string, bufSize),
	}
}

// read consumes r until it fails or reaches EOF, then closes both channels.
// Once ctx is done lines are drained and discarded so the writer never blocks.
func (s *stream) read(ctx context.Context, r io.Reader) {
	defer close(s.records)
	defer close(s.diagnostics)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			continue
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || telemetry.IsHeader(line) {
			continue
		}

		rec, err := telemetry.ParseRecord(line)
		if err != nil {
			s.logger.Debug("stand", "line", line)
			select {
			case s.diagnostics <- line:
			default:
				s.logger.Warn("diagnostics channel full, dropping line", "line", line)
			}
			continue
		}
		rec.Received = time.Now()

		// Send record to channel (non-blocking)
		select {
		case s.records <- rec:
		default:
			s.logger.Warn("records channel full, dropping record", "time", rec.Time)
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.logger.Error("error reading from stand", "error", err)
	}
}
