package series

import (
	"log/slog"

	"github.com/itohio/thruststand/pkg/telemetry"
)

// Stage transforms a record stream.
type Stage func(in <-chan telemetry.Record) <-chan telemetry.Record

// NewAveraging creates a stage emitting the moving average of the last
// windowSize records for every input record. Time, throttle and receive time
// come from the newest record; temperature is averaged over valid readings
// only.
func NewAveraging(windowSize int, bufSize int, logger *slog.Logger) Stage {
	if windowSize <= 0 {
		windowSize = 1
	}
	if bufSize <= 0 {
		bufSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(in <-chan telemetry.Record) <-chan telemetry.Record {
		out := make(chan telemetry.Record, bufSize)

		go func() {
			defer close(out)

			var buffer []telemetry.Record
			for rec := range in {
				buffer = append(buffer, rec)
				if len(buffer) > windowSize {
					buffer = buffer[1:]
				}

				select {
				case out <- Average(buffer):
				default:
					logger.Warn("averaging output channel full, dropping record")
				}
			}
		}()

		return out
	}
}

// Average averages the measurements of records.
func Average(records []telemetry.Record) telemetry.Record {
	if len(records) == 0 {
		return telemetry.Record{}
	}

	last := records[len(records)-1]
	avg := telemetry.Record{
		Time:     last.Time,
		Throttle: last.Throttle,
		Received: last.Received,
	}

	var temps int
	for _, r := range records {
		avg.Thrust += r.Thrust
		avg.RPM += r.RPM
		avg.Voltage += r.Voltage
		avg.Current += r.Current
		avg.Power += r.Power
		if r.TemperatureValid {
			avg.Temperature += r.Temperature
			temps++
		}
	}

	n := float64(len(records))
	avg.Thrust /= n
	avg.RPM /= n
	avg.Voltage /= n
	avg.Current /= n
	avg.Power /= n
	if temps > 0 {
		avg.Temperature /= float64(temps)
		avg.TemperatureValid = true
	}
	return avg
}
