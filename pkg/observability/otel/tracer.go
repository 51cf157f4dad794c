package otel

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

type otelTracer struct {
	tracer oteltrace.Tracer
}

func newOtelTracer(tracer oteltrace.Tracer) *otelTracer {
	return &otelTracer{tracer: tracer}
}

var spanKinds = map[observability.SpanKind]oteltrace.SpanKind{
	observability.SpanKindInternal: oteltrace.SpanKindInternal,
	observability.SpanKindServer:   oteltrace.SpanKindServer,
	observability.SpanKindClient:   oteltrace.SpanKindClient,
	observability.SpanKindProducer: oteltrace.SpanKindProducer,
	observability.SpanKindConsumer: oteltrace.SpanKindConsumer,
}

func (t *otelTracer) Start(ctx context.Context, spanName string, opts ...observability.SpanOption) (context.Context, observability.Span) {
	cfg := observability.NewSpanConfig(opts)

	kind, ok := spanKinds[cfg.Kind]
	if !ok {
		kind = oteltrace.SpanKindInternal
	}
	startOpts := []oteltrace.SpanStartOption{oteltrace.WithSpanKind(kind)}
	if attrs := toAttributes(cfg.Attributes); attrs != nil {
		startOpts = append(startOpts, oteltrace.WithAttributes(attrs...))
	}

	ctx, span := t.tracer.Start(ctx, spanName, startOpts...)
	return ctx, &otelSpan{span: span}
}

// SpanFromContext never returns nil. Without an active span the result wraps
// a non-recording span.
func (t *otelTracer) SpanFromContext(ctx context.Context) observability.Span {
	return &otelSpan{span: oteltrace.SpanFromContext(ctx)}
}

func (t *otelTracer) ContextWithSpan(ctx context.Context, span observability.Span) context.Context {
	if s, ok := span.(*otelSpan); ok {
		return oteltrace.ContextWithSpan(ctx, s.span)
	}
	return ctx
}

type otelSpan struct {
	span oteltrace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttributes(fields ...observability.Field) {
	if attrs := toAttributes(fields); attrs != nil {
		s.span.SetAttributes(attrs...)
	}
}

func (s *otelSpan) SetStatus(code observability.StatusCode, description string) {
	switch code {
	case observability.StatusCodeOK:
		s.span.SetStatus(codes.Ok, description)
	case observability.StatusCodeError:
		s.span.SetStatus(codes.Error, description)
	default:
		s.span.SetStatus(codes.Unset, description)
	}
}

func (s *otelSpan) RecordError(err error, fields ...observability.Field) {
	s.span.RecordError(err, oteltrace.WithAttributes(toAttributes(fields)...))
}

func (s *otelSpan) AddEvent(name string, fields ...observability.Field) {
	s.span.AddEvent(name, oteltrace.WithAttributes(toAttributes(fields)...))
}

func (s *otelSpan) Context() observability.SpanContext {
	return spanContext{sc: s.span.SpanContext()}
}

type spanContext struct {
	sc oteltrace.SpanContext
}

func (c spanContext) TraceID() string { return c.sc.TraceID().String() }
func (c spanContext) SpanID() string  { return c.sc.SpanID().String() }
func (c spanContext) IsSampled() bool { return c.sc.IsSampled() }
