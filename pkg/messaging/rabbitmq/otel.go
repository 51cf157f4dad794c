package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Outcomes recorded on the consume span and the outcome counter.
const (
	OutcomeAcked    = "acked"
	OutcomeRejected = "rejected"
	OutcomeRequeued = "requeued"
)

// Instrumentation holds the OpenTelemetry tracer and instruments used by
// runners, processors and the publisher. Instruments are created once.
type Instrumentation struct {
	tracer trace.Tracer

	deliveries      metric.Int64Counter
	outcomes        metric.Int64Counter
	retryAttempts   metric.Int64Counter
	timeouts        metric.Int64Counter
	inFlight        metric.Int64UpDownCounter
	consumeDuration metric.Float64Histogram
	handlerDuration metric.Float64Histogram
	publishCount    metric.Int64Counter
	publishErrors   metric.Int64Counter
}

type instrumentationConfig struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

type InstrumentationOption func(*instrumentationConfig)

func WithTracerProvider(tp trace.TracerProvider) InstrumentationOption {
	return func(c *instrumentationConfig) { c.tracerProvider = tp }
}

func WithMeterProvider(mp metric.MeterProvider) InstrumentationOption {
	return func(c *instrumentationConfig) { c.meterProvider = mp }
}

// NewInstrumentation uses the global providers unless overridden.
func NewInstrumentation(scope string, opts ...InstrumentationOption) (*Instrumentation, error) {
	if scope == "" {
		return nil, errors.New("rabbitmq: instrumentation scope cannot be empty")
	}

	cfg := instrumentationConfig{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	meter := cfg.meterProvider.Meter(scope)
	inst := &Instrumentation{tracer: cfg.tracerProvider.Tracer(scope)}

	var err error
	if inst.deliveries, err = meter.Int64Counter("messaging.rabbitmq.consume.count",
		metric.WithDescription("Deliveries received from the broker"),
		metric.WithUnit("{message}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create consume count metric: %w", err)
	}
	if inst.outcomes, err = meter.Int64Counter("messaging.rabbitmq.outcome.count",
		metric.WithDescription("Deliveries settled, by outcome"),
		metric.WithUnit("{message}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create outcome metric: %w", err)
	}
	if inst.retryAttempts, err = meter.Int64Counter("messaging.rabbitmq.retry.attempts",
		metric.WithDescription("Handler attempts that were retried"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create retry attempts metric: %w", err)
	}
	if inst.timeouts, err = meter.Int64Counter("messaging.rabbitmq.handler.timeouts",
		metric.WithDescription("Handler attempts that exceeded their timeout"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create timeouts metric: %w", err)
	}
	if inst.inFlight, err = meter.Int64UpDownCounter("messaging.rabbitmq.inflight",
		metric.WithDescription("Deliveries received but not yet settled"),
		metric.WithUnit("{message}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create in-flight metric: %w", err)
	}
	if inst.consumeDuration, err = meter.Float64Histogram("messaging.rabbitmq.consume.duration",
		metric.WithDescription("Time from delivery to settlement"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create consume duration metric: %w", err)
	}
	if inst.handlerDuration, err = meter.Float64Histogram("messaging.rabbitmq.handler.duration",
		metric.WithDescription("Duration of a single handler attempt"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create handler duration metric: %w", err)
	}
	if inst.publishCount, err = meter.Int64Counter("messaging.rabbitmq.publish.count",
		metric.WithDescription("Messages published"),
		metric.WithUnit("{message}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create publish count metric: %w", err)
	}
	if inst.publishErrors, err = meter.Int64Counter("messaging.rabbitmq.publish.errors",
		metric.WithDescription("Failed publish attempts"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create publish errors metric: %w", err)
	}

	return inst, nil
}

func queueAttrs(cfg ConsumerConfig) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.MessagingSystemRabbitmq,
		semconv.MessagingDestinationName(cfg.Queue),
		attribute.String("messaging.rabbitmq.exchange", cfg.Exchange),
		attribute.String("messaging.rabbitmq.routing_key", cfg.RoutingKey),
	}
}

// StartConsume opens the consumer span for a delivery as a child of the
// producer span carried in its headers.
func (i *Instrumentation) StartConsume(ctx context.Context, cfg ConsumerConfig, d amqp.Delivery) (context.Context, trace.Span) {
	ctx = ExtractTraceContext(ctx, d.Headers)
	attrs := append(queueAttrs(cfg),
		attribute.String("messaging.operation.type", "process"),
		attribute.String("messaging.message.id", d.MessageId),
		attribute.Bool("messaging.rabbitmq.redelivered", d.Redelivered),
	)
	ctx, span := i.tracer.Start(ctx, "consume "+cfg.Queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attrs...),
	)

	queue := metric.WithAttributes(attribute.String("messaging.destination", cfg.Queue))
	i.deliveries.Add(ctx, 1, queue)
	i.inFlight.Add(ctx, 1, queue)
	return ctx, span
}

// EndConsume settles the span and metrics opened by StartConsume.
func (i *Instrumentation) EndConsume(ctx context.Context, span trace.Span, cfg ConsumerConfig, outcome string, started time.Time, err error) {
	queue := attribute.String("messaging.destination", cfg.Queue)
	i.inFlight.Add(ctx, -1, metric.WithAttributes(queue))
	i.outcomes.Add(ctx, 1, metric.WithAttributes(queue, attribute.String("outcome", outcome)))
	i.consumeDuration.Record(ctx, float64(time.Since(started).Milliseconds()), metric.WithAttributes(queue))

	span.SetAttributes(attribute.String("messaging.rabbitmq.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, outcome)
	}
	span.End()
}

// InstrumentHandler runs one handler attempt inside its own span.
func (i *Instrumentation) InstrumentHandler(ctx context.Context, queue string, attempt int, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := i.tracer.Start(ctx, "handle "+queue,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("messaging.destination", queue),
			attribute.Int("retry.attempt", attempt),
		),
	)
	defer span.End()

	err := fn(ctx)

	attrs := []attribute.KeyValue{attribute.String("messaging.destination", queue)}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		attrs = append(attrs, attribute.String("error.type", classifyError(err)))
	} else {
		span.SetStatus(codes.Ok, "handled")
	}
	i.handlerDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))

	return err
}

func (i *Instrumentation) RecordRetry(ctx context.Context, queue string, attempt int) {
	i.retryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("messaging.destination", queue),
		attribute.Int("retry.attempt", attempt),
	))
}

func (i *Instrumentation) RecordTimeout(ctx context.Context, queue string) {
	i.timeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("messaging.destination", queue)))
}

// InstrumentPublish opens a producer span, injects its context into headers
// and runs fn.
func (i *Instrumentation) InstrumentPublish(ctx context.Context, exchange, routingKey string, headers amqp.Table, fn func(context.Context) error) error {
	ctx, span := i.tracer.Start(ctx, "publish "+routingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemRabbitmq,
			semconv.MessagingDestinationName(routingKey),
			attribute.String("messaging.operation.type", "publish"),
			attribute.String("messaging.rabbitmq.exchange", exchange),
		),
	)
	defer span.End()

	InjectTraceContext(ctx, headers)
	err := fn(ctx)

	attrs := metric.WithAttributes(
		attribute.String("messaging.rabbitmq.exchange", exchange),
		attribute.String("messaging.destination", routingKey),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.publishErrors.Add(ctx, 1, attrs)
		return err
	}
	span.SetStatus(codes.Ok, "published")
	i.publishCount.Add(ctx, 1, attrs)
	return nil
}

func classifyError(err error) string {
	var (
		timeoutErr *HandlerTimeoutError
		panicErr   *PanicError
		connErr    *ConnectivityError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &panicErr):
		return "panic"
	case errors.As(err, &connErr):
		return "connectivity"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	default:
		return "handler"
	}
}
