// Package observability defines the logging, tracing and metrics facade used
// across the module. Concrete providers live in the noop, fake and otel
// subpackages.
package observability

import "time"

// Observability bundles the three telemetry signals. Components receive this
// interface and never a concrete provider.
type Observability interface {
	Tracer() Tracer
	Logger() Logger
	Metrics() Metrics
}

// Field is a key/value pair attached to log records, span attributes and
// metric data points.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

func Any(key string, value any) Field { return Field{Key: key, Value: value} }

// Error stores err under the conventional "error" key.
func Error(err error) Field { return Field{Key: "error", Value: err} }

// Merge returns a new slice holding base followed by extra. The inputs are
// never modified, so child loggers cannot clobber their parent's fields.
func Merge(base []Field, extra ...Field) []Field {
	out := make([]Field, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}
