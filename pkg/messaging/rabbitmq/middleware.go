package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

// Middleware decorates a Handler.
type Middleware func(Handler) Handler

// Chain wraps h so that mws[0] is the outermost layer.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// HeaderFields binds the named delivery headers to the handler's log
// context, so every record the handler writes is tagged with them.
// Missing headers are skipped.
func HeaderFields(headers ...string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, body any, d amqp.Delivery) error {
			fields := make([]observability.Field, 0, len(headers))
			for _, name := range headers {
				if v, ok := d.Headers[name]; ok {
					fields = append(fields, observability.String(name, fmt.Sprint(v)))
				}
			}
			return next(observability.WithFields(ctx, fields...), body, d)
		}
	}
}

// Logging writes a debug record before and after every handler call.
func Logging(logger observability.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, body any, d amqp.Delivery) error {
			logger.Debug(ctx, "handling message",
				observability.String("routing_key", d.RoutingKey),
				observability.Bool("redelivered", d.Redelivered),
			)
			err := next(ctx, body, d)
			if err != nil {
				logger.Debug(ctx, "handler returned error", observability.Error(err))
			}
			return err
		}
	}
}
