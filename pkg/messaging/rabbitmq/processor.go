package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/oklog/ulid/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

// BodyPreviewLength caps how much of a failed message body is logged.
const BodyPreviewLength = 100

// Handler processes one decoded message. body is the JSON-decoded payload;
// delivery gives access to headers and the raw bytes. Any returned error is
// a failed attempt. ctx is cancelled when the attempt times out or the
// runtime is forced down.
type Handler func(ctx context.Context, body any, delivery amqp.Delivery) error

// JSONHandler decodes the body into T before calling fn.
func JSONHandler[T any](fn func(ctx context.Context, msg T, delivery amqp.Delivery) error) Handler {
	return func(ctx context.Context, _ any, delivery amqp.Delivery) error {
		var msg T
		if err := json.Unmarshal(delivery.Body, &msg); err != nil {
			return fmt.Errorf("decode %T: %w", msg, err)
		}
		return fn(ctx, msg, delivery)
	}
}

// Sleeper waits d or until ctx is done, returning ctx.Err() in that case.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryDelay is the pause before retry number attempt (1-based):
// base * attempt². It saturates at the largest time.Duration instead of
// overflowing.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt <= 0 {
		return 0
	}
	n := int64(attempt)
	if n > math.MaxInt64/n {
		return time.Duration(math.MaxInt64)
	}
	factor := n * n
	if int64(base) > math.MaxInt64/factor {
		return time.Duration(math.MaxInt64)
	}
	return base * time.Duration(factor)
}

func bodyPreview(body []byte) string {
	if len(body) > BodyPreviewLength {
		body = body[:BodyPreviewLength]
	}
	return string(body)
}

// processor applies the retry, timeout and acknowledgement policy of one
// consumer to individual deliveries.
type processor struct {
	cfg     ConsumerConfig
	logger  observability.Logger
	inst    *Instrumentation
	sleep   Sleeper
	handler Handler
}

func newProcessor(cfg ConsumerConfig, logger observability.Logger, inst *Instrumentation, sleep Sleeper, mws []Middleware) *processor {
	return &processor{
		cfg:     cfg,
		logger:  logger,
		inst:    inst,
		sleep:   sleep,
		handler: Chain(cfg.Handler, mws...),
	}
}

// process owns d until it is settled. ctx is the drain context: it is only
// cancelled when shutdown gives up waiting. signal is cancelled as soon as
// shutdown starts and interrupts retry pauses.
//
// The returned error is nil on ack, a *PermanentProcessingFailure on
// reject, or ErrProcessingInterrupted when the message was requeued.
func (p *processor) process(ctx, signal context.Context, d amqp.Delivery) error {
	started := time.Now()
	ctx = observability.WithFields(ctx,
		observability.String("queue", p.cfg.Queue),
		observability.String("processing_id", ulid.Make().String()),
		observability.Int64("delivery_tag", int64(d.DeliveryTag)),
	)
	ctx, span := p.inst.StartConsume(ctx, p.cfg, d)

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			p.inst.RecordRetry(ctx, p.cfg.Queue, attempt)
			if err := p.sleep(signal, RetryDelay(p.cfg.RetryDelay, attempt)); err != nil {
				return p.requeue(ctx, span, d, started, lastErr)
			}
		}

		err := p.inst.InstrumentHandler(ctx, p.cfg.Queue, attempt, func(ctx context.Context) error {
			return p.attempt(ctx, d)
		})
		if err == nil {
			p.ack(ctx, span, d, started)
			return nil
		}
		if ctx.Err() != nil {
			return p.requeue(ctx, span, d, started, err)
		}

		lastErr = err
		if attempt < p.cfg.MaxRetries {
			p.logger.Warn(ctx, "message processing failed, retrying",
				observability.Int("attempt", attempt+1),
				observability.Int("max_attempts", p.cfg.MaxRetries+1),
				observability.Duration("retry_after", RetryDelay(p.cfg.RetryDelay, attempt+1)),
				observability.Error(err),
			)
		}
	}

	failure := &PermanentProcessingFailure{Queue: p.cfg.Queue, Attempts: p.cfg.MaxRetries + 1, Err: lastErr}
	p.reject(ctx, span, d, started, failure)
	return failure
}

// attempt decodes the body and runs the handler under the consumer's
// timeout. A handler that ignores ctx keeps running in the background, but
// the attempt is over for the processor.
func (p *processor) attempt(ctx context.Context, d amqp.Delivery) error {
	var body any
	if err := json.Unmarshal(d.Body, &body); err != nil {
		return fmt.Errorf("rabbitmq: decode message body: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.HandlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &PanicError{Value: r}
			}
		}()
		done <- p.handler(attemptCtx, body, d)
	}()

	select {
	case err := <-done:
		if err == nil || attemptCtx.Err() == nil {
			return err
		}
	case <-attemptCtx.Done():
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.inst.RecordTimeout(ctx, p.cfg.Queue)
	return &HandlerTimeoutError{Queue: p.cfg.Queue, Timeout: p.cfg.HandlerTimeout}
}

func (p *processor) ack(ctx context.Context, span trace.Span, d amqp.Delivery, started time.Time) {
	if err := d.Ack(false); err != nil {
		p.logger.Error(ctx, "failed to ack message", observability.Error(err))
		p.inst.EndConsume(ctx, span, p.cfg, OutcomeAcked, started, err)
		return
	}
	p.logger.Info(ctx, "message processed successfully",
		observability.String("body_preview", bodyPreview(d.Body)),
		observability.Duration("elapsed", time.Since(started)),
	)
	p.inst.EndConsume(ctx, span, p.cfg, OutcomeAcked, started, nil)
}

func (p *processor) reject(ctx context.Context, span trace.Span, d amqp.Delivery, started time.Time, failure error) {
	p.logger.Error(ctx, "message processing failed permanently",
		observability.Int("attempts", p.cfg.MaxRetries+1),
		observability.String("body_preview", bodyPreview(d.Body)),
		observability.Error(failure),
	)
	if err := d.Reject(false); err != nil {
		p.logger.Error(ctx, "failed to reject message", observability.Error(err))
	}
	p.inst.EndConsume(ctx, span, p.cfg, OutcomeRejected, started, failure)
}

// requeue hands an interrupted message back to the broker so another
// consumer, or this one after a restart, sees it again.
func (p *processor) requeue(ctx context.Context, span trace.Span, d amqp.Delivery, started time.Time, lastErr error) error {
	fields := []observability.Field{observability.String("body_preview", bodyPreview(d.Body))}
	if lastErr != nil {
		fields = append(fields, observability.Error(lastErr))
	}
	p.logger.Warn(ctx, "shutdown interrupted message processing, requeueing", fields...)
	if err := d.Nack(false, true); err != nil {
		p.logger.Error(ctx, "failed to requeue message", observability.Error(err))
	}
	p.inst.EndConsume(context.WithoutCancel(ctx), span, p.cfg, OutcomeRequeued, started, ErrProcessingInterrupted)
	return ErrProcessingInterrupted
}
