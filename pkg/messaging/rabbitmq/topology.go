package rabbitmq

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

// TopologyResult tells whether the queue was found on the broker or
// declared and bound by this call.
type TopologyResult struct {
	Queue  string
	Reused bool
}

// TopologyInstaller makes sure a consumer's exchange, queue and binding
// exist. A queue that already exists is reused as is and its bindings are
// left alone.
type TopologyInstaller struct {
	logger observability.Logger

	// openProbe returns a throwaway channel for the passive queue lookup.
	// The broker closes a channel whose passive declare misses, so the
	// lookup cannot run on the consumer's channel.
	openProbe func() (Channel, error)
}

func NewTopologyInstaller(logger observability.Logger, openProbe func() (Channel, error)) *TopologyInstaller {
	return &TopologyInstaller{logger: logger, openProbe: openProbe}
}

func (t *TopologyInstaller) Ensure(ctx context.Context, cfg ConsumerConfig, ch Channel) (TopologyResult, error) {
	fail := func(op string, err error) (TopologyResult, error) {
		return TopologyResult{}, &TopologyError{Queue: cfg.Queue, Exchange: cfg.Exchange, Op: op, Err: err}
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, string(cfg.ExchangeKind), cfg.Durable, false, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}

	exists, err := t.queueExists(cfg)
	if err != nil {
		return fail("inspect queue", err)
	}
	if exists {
		t.logger.Info(ctx, "reusing existing queue", observability.String("queue", cfg.Queue))
		return TopologyResult{Queue: cfg.Queue, Reused: true}, nil
	}

	q, err := ch.QueueDeclare(cfg.Queue, cfg.Durable, cfg.AutoDelete, cfg.Exclusive, false, nil)
	if err != nil {
		return fail("declare queue", err)
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fail("bind queue", err)
	}

	t.logger.Info(ctx, "declared and bound queue",
		observability.String("queue", q.Name),
		observability.String("exchange", cfg.Exchange),
		observability.String("routing_key", cfg.RoutingKey),
	)
	return TopologyResult{Queue: q.Name}, nil
}

func (t *TopologyInstaller) queueExists(cfg ConsumerConfig) (bool, error) {
	probe, err := t.openProbe()
	if err != nil {
		return false, err
	}
	defer func() { _ = probe.Close() }()

	_, err = probe.QueueDeclarePassive(cfg.Queue, cfg.Durable, cfg.AutoDelete, cfg.Exclusive, false, nil)
	if err == nil {
		return true, nil
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
		return false, nil
	}
	return false, err
}
