package series

import (
	"cmp"
	"slices"

	"github.com/itohio/thruststand/pkg/telemetry"
)

// Downsample keeps at most maxPoints evenly spaced elements of src, always
// including the first. The result is written into dst when it has room.
func Downsample[T any](dst, src []T, maxPoints int) []T {
	n := len(src)
	if maxPoints <= 0 || n <= maxPoints {
		maxPoints = n
	}
	if cap(dst) < maxPoints {
		dst = make([]T, 0, maxPoints)
	}
	dst = dst[:0]
	if maxPoints == n {
		return append(dst, src...)
	}

	for i := range maxPoints {
		dst = append(dst, src[i*n/maxPoints])
	}
	return dst
}

// DecimateByTime keeps one point per step seconds of stand time. Within a
// step the latest record replaces the previous one.
func DecimateByTime(records []telemetry.Record, field Field, step float64) []Point {
	if len(records) == 0 {
		return nil
	}

	points := make([]Point, 0, len(records))
	var binStart float64
	for i, rec := range records {
		p := Point{X: rec.Time, Y: field.Of(rec)}
		if i == 0 || rec.Time-binStart >= step {
			points = append(points, p)
			binStart = rec.Time
			continue
		}
		points[len(points)-1] = p
	}
	return points
}

// ThrottleDomain plots field against throttle: the last value seen at each
// throttle setting, sorted by throttle.
func ThrottleDomain(records []telemetry.Record, field Field) []Point {
	last := make(map[float64]float64)
	for _, rec := range records {
		last[rec.Throttle] = field.Of(rec)
	}

	points := make([]Point, 0, len(last))
	for x, y := range last {
		points = append(points, Point{X: x, Y: y})
	}
	slices.SortFunc(points, func(a, b Point) int {
		return cmp.Compare(a.X, b.X)
	})
	return points
}
