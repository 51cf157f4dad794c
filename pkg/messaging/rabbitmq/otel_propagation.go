package rabbitmq

import (
	"context"

	"go.opentelemetry.io/otel"
)

// InjectTraceContext writes the W3C trace context of ctx into headers using
// the global propagator. headers must be non-nil.
func InjectTraceContext(ctx context.Context, headers map[string]interface{}) {
	otel.GetTextMapPropagator().Inject(ctx, amqpHeaderCarrier(headers))
}

// ExtractTraceContext returns ctx enriched with the remote span context found
// in headers, or ctx unchanged when there is none.
func ExtractTraceContext(ctx context.Context, headers map[string]interface{}) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, amqpHeaderCarrier(headers))
}

// amqpHeaderCarrier adapts amqp.Table to propagation.TextMapCarrier. Only
// string values are visible to the propagator.
type amqpHeaderCarrier map[string]interface{}

func (c amqpHeaderCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c amqpHeaderCarrier) Set(key, value string) {
	c[key] = value
}

func (c amqpHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
