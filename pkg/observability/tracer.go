package observability

import "context"

type Tracer interface {
	// Start opens a span as a child of whatever span ctx carries. Callers
	// must End the returned span.
	Start(ctx context.Context, spanName string, opts ...SpanOption) (context.Context, Span)
	SpanFromContext(ctx context.Context) Span
	ContextWithSpan(ctx context.Context, span Span) context.Context
}

type Span interface {
	End()
	SetAttributes(fields ...Field)
	SetStatus(code StatusCode, description string)
	RecordError(err error, fields ...Field)
	AddEvent(name string, fields ...Field)
	Context() SpanContext
}

type SpanContext interface {
	TraceID() string
	SpanID() string
	IsSampled() bool
}

type StatusCode int

const (
	StatusCodeUnset StatusCode = iota
	StatusCodeOK
	StatusCodeError
)

type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
	SpanKindProducer
	SpanKindConsumer
)

// SpanOption tweaks span creation.
type SpanOption func(*SpanConfig)

// SpanConfig is the resolved form of a set of SpanOptions. Providers read it
// through NewSpanConfig.
type SpanConfig struct {
	Kind       SpanKind
	Attributes []Field
}

func WithSpanKind(kind SpanKind) SpanOption {
	return func(c *SpanConfig) { c.Kind = kind }
}

func WithAttributes(fields ...Field) SpanOption {
	return func(c *SpanConfig) { c.Attributes = append(c.Attributes, fields...) }
}

func NewSpanConfig(opts []SpanOption) SpanConfig {
	cfg := SpanConfig{Kind: SpanKindInternal}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
