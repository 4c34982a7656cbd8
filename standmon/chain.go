package main

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/itohio/thruststand/pkg/link"
	"github.com/itohio/thruststand/pkg/publish"
	"github.com/itohio/thruststand/pkg/series"
	"github.com/itohio/thruststand/pkg/telemetry"
)

// statusInterval throttles the status line.
const statusInterval = time.Second

// recordChain tracks the goroutines consuming a link for graceful shutdown.
type recordChain struct {
	window *series.Window
	wg     sync.WaitGroup
	// Closed when the link's record channel closes
	done chan struct{}
}

func (c *recordChain) wait() {
	c.wg.Wait()
}

// startChain fans the link's records out to the history window, the
// optional MQTT publisher and a throttled status line, and prints stand
// diagnostics.
func startChain(device link.Link, pub *publish.Publisher, average int, logger *slog.Logger) *recordChain {
	chain := &recordChain{
		window: series.NewWindow(series.DefaultWindow),
		done:   make(chan struct{}),
	}

	outputs := 2
	if pub != nil {
		outputs++
	}
	branches := tee(device.Records(), outputs, logger)

	chain.wg.Add(1)
	go func() {
		defer chain.wg.Done()
		defer close(chain.done)
		chain.window.ProcessRecords(branches[0])
	}()

	status := branches[1]
	if average > 0 {
		status = series.NewAveraging(average, link.DefaultBufferSize, logger)(status)
	}
	chain.wg.Add(1)
	go func() {
		defer chain.wg.Done()
		var last time.Time
		for rec := range status {
			if rec.Received.Sub(last) < statusInterval {
				continue
			}
			last = rec.Received
			logger.Info(statusLine(rec))
		}
	}()

	if pub != nil {
		chain.wg.Add(1)
		go func() {
			defer chain.wg.Done()
			pub.Run(branches[2])
		}()
	}

	chain.wg.Add(1)
	go func() {
		defer chain.wg.Done()
		for line := range device.Diagnostics() {
			fmt.Println(line)
		}
	}()

	return chain
}

func statusLine(rec telemetry.Record) string {
	temp := "n/a"
	if rec.TemperatureValid {
		temp = fmt.Sprintf("%.1fC", rec.Temperature)
	}
	return fmt.Sprintf("t=%.1fs throttle=%.0f%% thrust=%.1fg rpm=%.0f %.2fV %.2fA %.1fW temp=%s",
		rec.Time, rec.Throttle, rec.Thrust, rec.RPM, rec.Voltage, rec.Current, rec.Power, temp)
}

// tee copies every value of in to n outputs. A slow output drops values
// instead of stalling the others.
func tee(in <-chan telemetry.Record, n int, logger *slog.Logger) []<-chan telemetry.Record {
	outs := make([]chan telemetry.Record, n)
	result := make([]<-chan telemetry.Record, n)
	for i := range outs {
		outs[i] = make(chan telemetry.Record, link.DefaultBufferSize)
		result[i] = outs[i]
	}

	go func() {
		defer func() {
			for _, out := range outs {
				close(out)
			}
		}()
		for rec := range in {
			for i, out := range outs {
				select {
				case out <- rec:
				default:
					logger.Warn("record branch full, dropping", "branch", i)
				}
			}
		}
	}()

	return result
}
