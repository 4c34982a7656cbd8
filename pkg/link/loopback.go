package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/itohio/thruststand/pkg/config"
	"github.com/itohio/thruststand/pkg/rig"
	"github.com/itohio/thruststand/pkg/stand"
	"github.com/itohio/thruststand/pkg/telemetry"
)

// Loopback runs a simulated stand in-process and talks to it through pipes,
// exactly as a serial link would.
type Loopback struct {
	cfg    *config.Config
	logger *slog.Logger

	stream    *stream
	rig       *rig.Rig
	cmdW      *io.PipeWriter
	outW      *io.PipeWriter
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connected bool
	err       error
}

// NewLoopback creates a link to a simulated stand built from cfg.
func NewLoopback(cfg *config.Config, bufSize int, logger *slog.Logger) *Loopback {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Loopback{
		cfg:    cfg,
		logger: logger.With("port", "loopback"),
		stream: newStream(bufSize, logger),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect powers up the simulated rig and boots the stand.
func (l *Loopback) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connected {
		return fmt.Errorf("already connected")
	}
	if l.ctx.Err() != nil {
		return fmt.Errorf("link closed")
	}

	l.rig = rig.New(&l.cfg.Mock, l.cfg.SensorParams(), l.cfg.Stand.MagnetsPerRevolution)
	cmdR, cmdW := io.Pipe()
	outR, outW := io.Pipe()

	s, err := stand.New(l.cfg.StandConfig(), l.rig.Hardware(), outW)
	if err != nil {
		return fmt.Errorf("failed to create stand: %w", err)
	}
	if err := l.rig.Start(); err != nil {
		return fmt.Errorf("failed to start rig: %w", err)
	}

	l.cmdW = cmdW
	l.outW = outW
	l.connected = true

	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		l.stream.read(l.ctx, outR)
	}()
	go func() {
		defer l.wg.Done()
		defer outW.Close()
		l.run(s, cmdR)
	}()

	return nil
}

func (l *Loopback) run(s *stand.Stand, in *io.PipeReader) {
	defer in.Close()

	if err := s.Boot(l.ctx, time.Now()); err != nil {
		l.fail(err)
		return
	}
	l.logger.Info("simulated stand ready")

	err := s.Run(l.ctx, in)
	if err != nil && !errors.Is(err, context.Canceled) {
		l.fail(err)
	}
}

func (l *Loopback) fail(err error) {
	l.logger.Error("simulated stand stopped", "error", err)
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// Err returns the error that stopped the simulated stand, if any.
func (l *Loopback) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Close stops the stand and the rig. The record and diagnostic channels are
// closed afterwards.
func (l *Loopback) Close() error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return nil
	}
	l.cancel()
	l.cmdW.Close()
	l.connected = false
	l.mu.Unlock()

	l.wg.Wait()
	return l.rig.Close()
}

// Records returns the telemetry channel.
func (l *Loopback) Records() <-chan telemetry.Record {
	return l.stream.records
}

// Diagnostics returns the diagnostic line channel.
func (l *Loopback) Diagnostics() <-chan string {
	return l.stream.diagnostics
}

// Send writes a command line to the simulated stand.
func (l *Loopback) Send(cmd string) error {
	l.mu.RLock()
	w := l.cmdW
	connected := l.connected
	l.mu.RUnlock()

	if !connected {
		return fmt.Errorf("not connected")
	}
	if _, err := io.WriteString(w, cmd+"\n"); err != nil {
		return fmt.Errorf("failed to send command %q: %w", cmd, err)
	}
	return nil
}

// IsConnected returns whether the simulated stand is running.
func (l *Loopback) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}
