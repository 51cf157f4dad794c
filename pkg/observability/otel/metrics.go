package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

// otelMetrics caches instruments by name. The SDK tolerates duplicate
// registration but logs a warning for every one of them.
type otelMetrics struct {
	meter metric.Meter

	mu          sync.Mutex
	instruments map[string]any
}

func newOtelMetrics(meter metric.Meter) *otelMetrics {
	return &otelMetrics{meter: meter, instruments: make(map[string]any)}
}

func (m *otelMetrics) cached(name string, build func() any) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instruments[name]; ok {
		return inst
	}
	inst := build()
	m.instruments[name] = inst
	return inst
}

func (m *otelMetrics) Counter(name, description, unit string) observability.Counter {
	inst := m.cached("counter/"+name, func() any {
		c, err := m.meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
		if err != nil {
			return discard{}
		}
		return &counter{c: c}
	})
	return inst.(observability.Counter)
}

func (m *otelMetrics) Histogram(name, description, unit string) observability.Histogram {
	inst := m.cached("histogram/"+name, func() any {
		h, err := m.meter.Float64Histogram(name, metric.WithDescription(description), metric.WithUnit(unit))
		if err != nil {
			return discard{}
		}
		return &histogram{h: h}
	})
	return inst.(observability.Histogram)
}

func (m *otelMetrics) UpDownCounter(name, description, unit string) observability.UpDownCounter {
	inst := m.cached("updown/"+name, func() any {
		u, err := m.meter.Int64UpDownCounter(name, metric.WithDescription(description), metric.WithUnit(unit))
		if err != nil {
			return discard{}
		}
		return &upDownCounter{u: u}
	})
	return inst.(observability.UpDownCounter)
}

func (m *otelMetrics) Gauge(name, description, unit string, callback observability.GaugeCallback) error {
	_, err := m.meter.Float64ObservableGauge(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			o.Observe(callback(ctx))
			return nil
		}),
	)
	return err
}

func attrOpt(fields []observability.Field) metric.MeasurementOption {
	return metric.WithAttributes(toAttributes(fields)...)
}

type counter struct{ c metric.Int64Counter }

func (c *counter) Add(ctx context.Context, value int64, fields ...observability.Field) {
	c.c.Add(ctx, value, attrOpt(fields))
}

func (c *counter) Increment(ctx context.Context, fields ...observability.Field) {
	c.c.Add(ctx, 1, attrOpt(fields))
}

type histogram struct{ h metric.Float64Histogram }

func (h *histogram) Record(ctx context.Context, value float64, fields ...observability.Field) {
	h.h.Record(ctx, value, attrOpt(fields))
}

type upDownCounter struct{ u metric.Int64UpDownCounter }

func (u *upDownCounter) Add(ctx context.Context, value int64, fields ...observability.Field) {
	u.u.Add(ctx, value, attrOpt(fields))
}

// discard stands in for an instrument the SDK refused to create, for
// example because of an invalid name.
type discard struct{}

func (discard) Add(context.Context, int64, ...observability.Field)      {}
func (discard) Increment(context.Context, ...observability.Field)       {}
func (discard) Record(context.Context, float64, ...observability.Field) {}
