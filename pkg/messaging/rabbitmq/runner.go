package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

// RunnerState tracks one queue's runner. Any failure moves it straight to
// RunnerStopped.
type RunnerState int32

const (
	RunnerInitializing RunnerState = iota
	RunnerInstallingTopology
	RunnerConsuming
	RunnerDraining
	RunnerStopped
)

func (s RunnerState) String() string {
	switch s {
	case RunnerInitializing:
		return "initializing"
	case RunnerInstallingTopology:
		return "installing_topology"
	case RunnerConsuming:
		return "consuming"
	case RunnerDraining:
		return "draining"
	case RunnerStopped:
		return "stopped"
	default:
		return fmt.Sprintf("runner_state(%d)", int32(s))
	}
}

type channelOpener interface {
	OpenChannel() (Channel, error)
}

// runner pulls deliveries from one queue on its own channel and hands each
// one to a processor without waiting for it.
type runner struct {
	cfg      ConsumerConfig
	tag      string
	conn     channelOpener
	topology *TopologyInstaller
	proc     *processor
	logger   observability.Logger
	limiter  *rate.Limiter

	state    atomic.Int32
	inFlight atomic.Int64
}

func (r *runner) State() RunnerState { return RunnerState(r.state.Load()) }

func (r *runner) setState(s RunnerState) { r.state.Store(int32(s)) }

// run returns nil when it stopped because of signal, and the cause
// otherwise. Processors get ctx, which outlives signal so in-flight work can
// finish while the runner drains.
func (r *runner) run(ctx, signal context.Context) error {
	defer r.setState(RunnerStopped)
	r.setState(RunnerInitializing)
	ctx = observability.WithFields(ctx, observability.String("queue", r.cfg.Queue))

	ch, err := r.conn.OpenChannel()
	if err != nil {
		return err
	}
	defer func() {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			r.logger.Warn(ctx, "failed to close consumer channel", observability.Error(err))
		}
	}()

	if err := ch.Qos(r.cfg.PrefetchCount, 0, false); err != nil {
		return &ConnectivityError{Op: "qos", Err: err}
	}

	r.setState(RunnerInstallingTopology)
	topo, err := r.topology.Ensure(ctx, r.cfg, ch)
	if err != nil {
		r.logger.Error(ctx, "failed to install topology", observability.Error(err))
		return err
	}

	deliveries, err := ch.Consume(topo.Queue, r.tag, false, false, false, false, nil)
	if err != nil {
		return &ConnectivityError{Op: "consume", Err: err}
	}

	r.setState(RunnerConsuming)
	r.logger.Info(ctx, "consumer started",
		observability.String("consumer_tag", r.tag),
		observability.Int("prefetch", r.cfg.PrefetchCount),
		observability.Int("max_retries", r.cfg.MaxRetries),
		observability.Duration("handler_timeout", r.cfg.HandlerTimeout),
	)

	var processors errgroup.Group
	processors.SetLimit(r.cfg.poolSize())

	consumeErr := r.consume(ctx, signal, deliveries, &processors)

	r.setState(RunnerDraining)
	if err := ch.Cancel(r.tag, false); err != nil && !errors.Is(err, amqp.ErrClosed) {
		r.logger.Debug(ctx, "failed to cancel consumer", observability.Error(err))
	}
	_ = processors.Wait()
	r.logger.Info(ctx, "consumer drained")

	return consumeErr
}

func (r *runner) consume(ctx, signal context.Context, deliveries <-chan amqp.Delivery, processors *errgroup.Group) error {
	for {
		select {
		case <-signal.Done():
			return nil

		case d, ok := <-deliveries:
			if !ok {
				if signal.Err() != nil {
					return nil
				}
				return &ConnectivityError{Op: "consume", Err: ErrDeliveriesClosed}
			}
			if signal.Err() != nil {
				r.giveBack(ctx, d)
				return nil
			}
			if r.limiter != nil {
				if err := r.limiter.Wait(signal); err != nil {
					r.giveBack(ctx, d)
					return nil
				}
			}

			r.inFlight.Add(1)
			processors.Go(func() error {
				defer r.inFlight.Add(-1)
				_ = r.proc.process(ctx, signal, d)
				return nil
			})
		}
	}
}

// giveBack requeues a delivery that was received after shutdown started.
func (r *runner) giveBack(ctx context.Context, d amqp.Delivery) {
	if err := d.Nack(false, true); err != nil {
		r.logger.Warn(ctx, "failed to requeue undispatched message", observability.Error(err))
	}
}
