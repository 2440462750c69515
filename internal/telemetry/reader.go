package telemetry

import (
	"context"
	"time"
)

// Sample is a single power reading paired with the time it was captured.
type Sample struct {
	Time       time.Time
	PowerWatts float64
}

// Seconds returns the capture time as fractional seconds since the Unix epoch.
func (s Sample) Seconds() float64 {
	return float64(s.Time.Unix()) + float64(s.Time.Nanosecond())/float64(time.Second)
}

// Reader is a source of GPU telemetry. Implementations must be safe for
// concurrent use, since every instance runner polls the same reader.
type Reader interface {
	Utilization(ctx context.Context) (int, error)
	Power(ctx context.Context) (Sample, error)
	Close() error
	Name() string
}
