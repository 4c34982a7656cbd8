package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/itohio/thruststand/pkg/config"
	"github.com/itohio/thruststand/pkg/link"
	"github.com/itohio/thruststand/pkg/publish"
	"github.com/itohio/thruststand/pkg/series"
	"github.com/itohio/thruststand/pkg/telemetry"
)

func main() {
	var (
		portFlag    = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag  = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag    = flag.Bool("mock", false, "Run a simulated stand in-process instead of using a serial port")
		verboseFlag = flag.Bool("v", false, "Debug logging")
		listFlag    = flag.Bool("list", false, "List serial ports and exit")
		averageFlag = flag.Int("average", 0, "Number of records to average for the status line (0 = disabled)")
		brokerFlag  = flag.String("mqtt", "", "MQTT broker override (e.g., localhost:1883)")
		fieldFlag   = flag.String("field", "thrust", "Measurement printed in the exit report (thrust, rpm, temperature, voltage, current, power, throttle)")
		stepFlag    = flag.Float64("decimate", 1, "Time step in seconds of the exit report's time curve")
		pointsFlag  = flag.Int("points", 60, "Maximum rows per exit report curve (0 = unlimited)")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verboseFlag {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)

	if *listFlag {
		if err := listPorts(); err != nil {
			logger.Error("failed to list ports", "error", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *brokerFlag != "" {
		cfg.MQTT.Broker = *brokerFlag
	}

	field, err := series.ParseField(*fieldFlag)
	if err != nil {
		logger.Error("invalid -field", "error", err)
		os.Exit(1)
	}
	report := reportOptions{field: field, step: *stepFlag, maxPoints: *pointsFlag}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *mockFlag, *averageFlag, report, logger); err != nil {
		logger.Error("monitor stopped", "error", err)
		os.Exit(1)
	}
}

func listPorts() error {
	ports, err := link.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		if p.Description != "" {
			fmt.Printf("%s\t%s\n", p.Name, p.Description)
		} else {
			fmt.Println(p.Name)
		}
	}
	return nil
}

func openLink(cfg *config.Config, mock bool, logger *slog.Logger) link.Link {
	if mock {
		logger.Info("using simulated stand")
		return link.NewLoopback(cfg, link.DefaultBufferSize, logger)
	}
	logger.Info("using serial port", "port", cfg.Serial.Port, "baud", cfg.Serial.BaudRate)
	return link.NewSerial(cfg.Serial.Port, cfg.Serial.BaudRate, link.DefaultBufferSize, logger)
}

// run connects, wires the record chain and forwards stdin lines as commands
// until ctx is done or the link closes.
func run(ctx context.Context, cfg *config.Config, mock bool, average int, report reportOptions, logger *slog.Logger) error {
	device := openLink(cfg, mock, logger)
	if err := device.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	var pub *publish.Publisher
	if cfg.MQTT.Broker != "" {
		p, err := publish.New(cfg.MQTT, logger)
		if err != nil {
			device.Close()
			return err
		}
		if err := p.Connect(device); err != nil {
			logger.Warn("mqtt unavailable, continuing without it", "error", err)
			p.Close()
		} else {
			pub = p
		}
	}

	chain := startChain(device, pub, average, logger)

	go forwardStdin(ctx, device, logger)

	select {
	case <-ctx.Done():
	case <-chain.done:
		logger.Warn("link closed")
	}

	device.Close()
	chain.wait()
	if pub != nil {
		pub.Close()
	}

	printReport(os.Stdout, chain.window.Records(), report)
	return nil
}

// forwardStdin sends every line typed by the operator to the stand.
func forwardStdin(ctx context.Context, device link.Link, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := device.Send(line); err != nil {
			logger.Warn("failed to send command", "command", line, "error", err)
		}
	}
}

// reportOptions selects the curves printed on exit.
type reportOptions struct {
	field     series.Field
	step      float64 // s
	maxPoints int
}

// printReport writes the run summary, the field over time and the field
// against throttle.
func printReport(w io.Writer, records []telemetry.Record, opts reportOptions) {
	s := series.Summarize(records)
	if s.Records == 0 {
		fmt.Fprintln(w, "no telemetry received")
		return
	}

	fmt.Fprintf(w, "records:       %d over %.1f s\n", s.Records, s.Duration)
	fmt.Fprintf(w, "peak thrust:   %.1f g at %.0f%% (%.1f W)\n", s.PeakThrust, s.PeakThrottle, s.PeakPower)
	fmt.Fprintf(w, "max rpm:       %.0f\n", s.MaxRPM)
	fmt.Fprintf(w, "max power:     %.1f W\n", s.MaxPower)
	fmt.Fprintf(w, "max current:   %.2f A\n", s.MaxCurrent)
	fmt.Fprintf(w, "min voltage:   %.2f V\n", s.MinVoltage)
	fmt.Fprintf(w, "max temp:      %.1f C\n", s.MaxTemperature)
	fmt.Fprintf(w, "efficiency:    %.2f g/W\n", s.Efficiency)

	timeCurve := series.DecimateByTime(records, opts.field, opts.step)
	printCurve(w, "time", opts.field, series.Downsample(nil, timeCurve, opts.maxPoints))

	throttleCurve := series.ThrottleDomain(records, opts.field)
	if len(throttleCurve) > 1 {
		printCurve(w, "throttle", opts.field, series.Downsample(nil, throttleCurve, opts.maxPoints))
	}
}

func printCurve(w io.Writer, x string, field series.Field, points []series.Point) {
	fmt.Fprintf(w, "%s,%s\n", x, field)
	for _, p := range points {
		fmt.Fprintf(w, "%.2f,%.2f\n", p.X, p.Y)
	}
}
