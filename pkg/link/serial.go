package link

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/itohio/thruststand/pkg/telemetry"
)

// DefaultBaudRate is the stand's serial speed.
const DefaultBaudRate = 9600

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is a connection to a stand over a serial port.
type Serial struct {
	port     string
	baudRate int
	logger   *slog.Logger

	stream    *stream
	conn      serial.Port
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
}

// NewSerial creates a serial link. Zero baud rate or buffer size use the
// defaults; a nil logger uses slog.Default.
func NewSerial(port string, baudRate int, bufSize int, logger *slog.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		logger:   logger.With("port", port),
		stream:   newStream(bufSize, logger),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Ports returns a list of available serial ports. USB ports are described
// by product name and VID:PID.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		names, err := serial.GetPortsList()
		if err != nil {
			return nil, fmt.Errorf("failed to list serial ports: %w", err)
		}
		result := make([]Port, 0, len(names))
		for _, name := range names {
			result = append(result, Port{Name: name, Description: name})
		}
		return result, nil
	}

	result := make([]Port, 0, len(details))
	for _, d := range details {
		desc := d.Name
		if d.IsUSB {
			desc = fmt.Sprintf("%s (%s:%s)", d.Product, d.VID, d.PID)
			if d.Product == "" {
				desc = fmt.Sprintf("%s (%s:%s)", d.Name, d.VID, d.PID)
			}
		}
		result = append(result, Port{Name: d.Name, Description: desc})
	}
	return result, nil
}

// Connect opens the serial port and starts reading.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}
	if d.ctx.Err() != nil {
		return fmt.Errorf("link closed")
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}
	// Drop boot noise buffered before we attached
	if err := port.ResetInputBuffer(); err != nil {
		d.logger.Warn("failed to reset input buffer", "error", err)
	}

	d.conn = port
	d.connected = true
	d.logger.Info("connected", "baud", d.baudRate)

	go func() {
		defer close(d.done)
		d.stream.read(d.ctx, port)
	}()

	return nil
}

// Close closes the port and waits for the reader to finish. The record and
// diagnostic channels are closed afterwards.
func (d *Serial) Close() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}

	d.cancel()
	if err := d.conn.Close(); err != nil {
		d.logger.Error("error closing serial port", "error", err)
	}
	d.connected = false
	d.mu.Unlock()

	<-d.done
	return nil
}

// Records returns the telemetry channel.
func (d *Serial) Records() <-chan telemetry.Record {
	return d.stream.records
}

// Diagnostics returns the diagnostic line channel.
func (d *Serial) Diagnostics() <-chan string {
	return d.stream.diagnostics
}

// Send writes a command line to the stand.
func (d *Serial) Send(cmd string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return fmt.Errorf("not connected")
	}

	if _, err := d.conn.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("failed to send command %q: %w", cmd, err)
	}
	return nil
}

// IsConnected returns whether the port is open.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}
