package observability

import "context"

// Metrics creates instruments. Asking twice for the same name returns the
// same instrument.
type Metrics interface {
	Counter(name, description, unit string) Counter
	Histogram(name, description, unit string) Histogram
	UpDownCounter(name, description, unit string) UpDownCounter

	// Gauge registers an asynchronous gauge observed through callback.
	Gauge(name, description, unit string, callback GaugeCallback) error
}

type Counter interface {
	Add(ctx context.Context, value int64, fields ...Field)
	Increment(ctx context.Context, fields ...Field)
}

type Histogram interface {
	Record(ctx context.Context, value float64, fields ...Field)
}

type UpDownCounter interface {
	Add(ctx context.Context, value int64, fields ...Field)
}

type GaugeCallback func(ctx context.Context) float64
