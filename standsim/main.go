// Command standsim runs the stand controller against a simulated rig, on
// stdio or on a serial port, so host tooling can be developed without
// hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"go.bug.st/serial"

	"github.com/itohio/thruststand/pkg/config"
	"github.com/itohio/thruststand/pkg/link"
	"github.com/itohio/thruststand/pkg/rig"
	"github.com/itohio/thruststand/pkg/stand"
)

func main() {
	var (
		portFlag    = flag.String("p", "", "Serve on this serial port instead of stdio (e.g., one end of a virtual null-modem pair)")
		baudFlag    = flag.Int("b", 0, "Baud rate override")
		configFlag  = flag.String("config", "config.yaml", "Configuration file path")
		failFlag    = flag.Bool("fail", false, "Simulate a load cell amplifier that never becomes ready")
		writeFlag   = flag.Bool("write-config", false, "Write the effective configuration to -config and exit")
		verboseFlag = flag.Bool("v", false, "Debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verboseFlag {
		level = slog.LevelDebug
	}
	// stdout carries the stand protocol, so logs go to stderr.
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configFlag)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *baudFlag > 0 {
		cfg.Serial.BaudRate = *baudFlag
	}
	if *failFlag {
		cfg.Mock.FailStartup = true
	}

	if *writeFlag {
		if err := cfg.Save(*configFlag); err != nil {
			logger.Error("failed to save configuration", "error", err)
			os.Exit(1)
		}
		logger.Info("configuration written", "path", *configFlag)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var conn io.ReadWriter = stdio{}
	if *portFlag != "" {
		baud := cfg.Serial.BaudRate
		if baud == 0 {
			baud = link.DefaultBaudRate
		}
		port, err := serial.Open(cfg.Serial.Port, &serial.Mode{BaudRate: baud})
		if err != nil {
			logger.Error("failed to open serial port", "port", cfg.Serial.Port, "error", err)
			os.Exit(1)
		}
		// Closing the port unblocks the stand's reader on shutdown.
		go func() {
			<-ctx.Done()
			port.Close()
		}()
		conn = port
		logger.Info("serving on serial port", "port", cfg.Serial.Port, "baud", baud)
	}

	if err := serve(ctx, cfg, conn, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("simulated stand stopped", "error", err)
		os.Exit(1)
	}
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

// serve boots a stand wired to a fresh simulated rig and runs it on conn
// until ctx is done. The end of input does not stop the stand.
func serve(ctx context.Context, cfg *config.Config, conn io.ReadWriter, logger *slog.Logger) error {
	r := rig.New(&cfg.Mock, cfg.SensorParams(), cfg.Stand.MagnetsPerRevolution)

	s, err := stand.New(cfg.StandConfig(), r.Hardware(), conn)
	if err != nil {
		return fmt.Errorf("failed to create stand: %w", err)
	}
	if err := r.Start(); err != nil {
		return fmt.Errorf("failed to start rig: %w", err)
	}
	defer r.Close()

	if err := s.Boot(ctx, time.Now()); err != nil {
		return err
	}
	logger.Info("simulated stand ready")

	err = s.Run(ctx, conn)
	logger.Info("simulated stand stopped", "throttle", s.Throttle(), "procedure", s.ProcedureState())
	return err
}
