package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

const instrumentationScope = "github.com/JailtonJunior94/mqconsumer/pkg/messaging/rabbitmq"

// Runtime runs one runner per registered queue over a shared connection and
// coordinates their shutdown.
type Runtime struct {
	o11y   observability.Observability
	logger observability.Logger
	config ConnectionConfig

	strategy        ConnectionStrategy
	sleep           Sleeper
	middlewares     []Middleware
	inst            *Instrumentation
	shutdownTimeout time.Duration

	conn     *ConnectionManager
	registry *Registry
	topology *TopologyInstaller

	state lifecycle
	// run is guarded by state's lock. It is nil while stopped.
	run *runState

	mu      sync.RWMutex
	runners []*runner
}

// runState is the shared state of one Start call. signalCtx is cancelled
// when shutdown begins; drainCtx is only cancelled when the drain deadline
// passes or the run is over.
type runState struct {
	drainCtx  context.Context
	force     context.CancelFunc
	signalCtx context.Context
	signal    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
}

func newRunState(parent context.Context) *runState {
	drainCtx, force := context.WithCancel(context.WithoutCancel(parent))
	signalCtx, signal := context.WithCancel(drainCtx)
	return &runState{
		drainCtx:  drainCtx,
		force:     force,
		signalCtx: signalCtx,
		signal:    signal,
		done:      make(chan struct{}),
	}
}

type runnerExit struct {
	queue string
	err   error
}

func NewRuntime(o11y observability.Observability, config ConnectionConfig, opts ...RuntimeOption) (*Runtime, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{
		o11y:            o11y,
		logger:          o11y.Logger().With(observability.String("component", "rabbitmq.runtime")),
		config:          config,
		strategy:        NewURLStrategy(config.URL),
		sleep:           sleepContext,
		shutdownTimeout: DefaultShutdownTimeout,
		registry:        NewRegistry(),
	}
	for _, opt := range opts {
		opt(rt)
	}

	if rt.inst == nil {
		inst, err := NewInstrumentation(instrumentationScope)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: create instrumentation: %w", err)
		}
		rt.inst = inst
	}

	rt.conn = NewConnectionManager(o11y, config, rt.strategy)
	rt.topology = NewTopologyInstaller(rt.logger, rt.conn.OpenChannel)

	if err := rt.registerGauges(); err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) registerGauges() error {
	metrics := rt.o11y.Metrics()
	if err := metrics.Gauge("rabbitmq.runtime.state", "Current runtime lifecycle state", "{state}",
		func(context.Context) float64 { return float64(rt.State()) }); err != nil {
		return fmt.Errorf("rabbitmq: register state gauge: %w", err)
	}
	if err := metrics.Gauge("rabbitmq.runtime.in_flight", "Messages currently being processed", "{message}",
		func(context.Context) float64 { return float64(rt.InFlight()) }); err != nil {
		return fmt.Errorf("rabbitmq: register in-flight gauge: %w", err)
	}
	return nil
}

// Register adds or replaces the consumer for cfg.Queue. It fails while the
// runtime is not stopped.
func (rt *Runtime) Register(cfg ConsumerConfig) error {
	if err := rt.registry.Register(cfg); err != nil {
		return err
	}
	if cfg.DeadLetterExchange != "" {
		rt.logger.Warn(context.Background(), "dead-letter exchange is recorded but not declared or bound",
			observability.String("queue", cfg.Queue),
			observability.String("dead_letter_exchange", cfg.DeadLetterExchange),
		)
	}
	rt.logger.Debug(context.Background(), "consumer registered",
		observability.String("queue", cfg.Queue),
		observability.String("exchange", cfg.Exchange),
		observability.String("routing_key", cfg.RoutingKey),
	)
	return nil
}

func (rt *Runtime) Registry() *Registry { return rt.registry }

func (rt *Runtime) Connection() *ConnectionManager { return rt.conn }

func (rt *Runtime) Instrumentation() *Instrumentation { return rt.inst }

// Start connects, launches a runner per registered queue and blocks until
// the runtime stops. It returns nil after Stop or cancellation of ctx, and
// the first runner failure otherwise. Cancelling ctx only begins shutdown:
// in-flight messages still get shutdownTimeout to finish.
func (rt *Runtime) Start(ctx context.Context) error {
	var (
		consumers []ConsumerConfig
		run       *runState
	)
	err := rt.state.update(func(current Lifecycle) (Lifecycle, error) {
		if current != StateStopped {
			return current, &RegistrationError{Err: ErrAlreadyRunning}
		}
		consumers = rt.registry.seal()
		if len(consumers) == 0 {
			return current, &RegistrationError{Err: ErrNoConsumers}
		}
		run = newRunState(ctx)
		rt.run = run
		return StateStarting, nil
	})
	if err != nil {
		rt.logger.Error(ctx, "runtime cannot start", observability.Error(err))
		return err
	}

	rt.logger.Info(ctx, "starting runtime", observability.Int("consumers", len(consumers)))

	if err := rt.conn.Connect(ctx); err != nil {
		rt.logger.Error(ctx, "failed to connect to broker", observability.Error(err))
		rt.teardown(ctx, run, nil)
		return err
	}

	exits := make(chan runnerExit, len(consumers))
	runners := make([]*runner, 0, len(consumers))
	for _, cfg := range consumers {
		r := rt.newRunner(cfg)
		runners = append(runners, r)
		run.wg.Add(1)
		go func() {
			defer run.wg.Done()
			exits <- runnerExit{queue: r.cfg.Queue, err: r.run(run.drainCtx, run.signalCtx)}
		}()
	}
	rt.mu.Lock()
	rt.runners = runners
	rt.mu.Unlock()

	_ = rt.state.update(func(current Lifecycle) (Lifecycle, error) {
		if current == StateStarting {
			return StateRunning, nil
		}
		return current, nil
	})
	rt.logger.Info(ctx, "runtime running")

	failure := rt.await(ctx, run, exits, len(consumers))
	rt.teardown(ctx, run, exits)
	return failure
}

// await blocks until shutdown is requested or a runner fails in a way that
// takes the runtime down. A topology failure only ends its own runner; it is
// returned when no runner is left.
func (rt *Runtime) await(ctx context.Context, run *runState, exits <-chan runnerExit, runners int) error {
	var topologyFailure error
	for runners > 0 {
		select {
		case exit := <-exits:
			runners--
			var topoErr *TopologyError
			if errors.As(exit.err, &topoErr) {
				rt.logger.Error(ctx, "consumer stopped, other queues keep consuming",
					observability.String("queue", exit.queue),
					observability.Error(exit.err),
				)
				if topologyFailure == nil {
					topologyFailure = exit.err
				}
				continue
			}
			if exit.err != nil {
				rt.logger.Error(ctx, "consumer stopped unexpectedly, stopping runtime",
					observability.String("queue", exit.queue),
					observability.Error(exit.err),
				)
			}
			return exit.err
		case <-run.signalCtx.Done():
			return nil
		case <-ctx.Done():
			rt.logger.Info(ctx, "context cancelled, stopping runtime")
			return nil
		}
	}
	return topologyFailure
}

// teardown signals every runner, waits for them within shutdownTimeout and
// releases the connection. exits is nil when no runner was started.
func (rt *Runtime) teardown(ctx context.Context, run *runState, exits chan runnerExit) {
	_ = rt.state.update(func(current Lifecycle) (Lifecycle, error) {
		if current == StateStarting || current == StateRunning {
			return StateStopping, nil
		}
		return current, nil
	})
	run.signal()

	timer := time.AfterFunc(rt.shutdownTimeout, func() {
		rt.logger.Warn(context.Background(), "drain deadline reached, cancelling in-flight handlers",
			observability.Duration("shutdown_timeout", rt.shutdownTimeout))
		run.force()
	})
	run.wg.Wait()
	timer.Stop()

	if exits != nil {
		close(exits)
		for exit := range exits {
			if exit.err != nil {
				rt.logger.Debug(ctx, "consumer exited with error during shutdown",
					observability.String("queue", exit.queue),
					observability.Error(exit.err),
				)
			}
		}
	}

	rt.conn.Disconnect(context.WithoutCancel(ctx))

	rt.mu.Lock()
	rt.runners = nil
	rt.mu.Unlock()

	_ = rt.state.update(func(Lifecycle) (Lifecycle, error) {
		rt.run = nil
		rt.registry.unseal()
		return StateStopped, nil
	})
	run.force()
	close(run.done)
	rt.logger.Info(context.WithoutCancel(ctx), "runtime stopped")
}

func (rt *Runtime) newRunner(cfg ConsumerConfig) *runner {
	logger := rt.logger.With(observability.String("queue", cfg.Queue))
	return &runner{
		cfg:      cfg,
		tag:      fmt.Sprintf("%s-%s-%s", rt.config.ConnectionName, cfg.Queue, ulid.Make().String()),
		conn:     rt.conn,
		topology: rt.topology,
		proc:     newProcessor(cfg, rt.logger, rt.inst, rt.sleep, rt.middlewares),
		logger:   logger,
		limiter:  cfg.limiter(),
	}
}

// Stop begins a graceful shutdown and waits for it. If ctx ends first the
// remaining handlers are cancelled and a *ShutdownError is returned. Stop on
// a stopped runtime does nothing.
func (rt *Runtime) Stop(ctx context.Context) error {
	var run *runState
	_ = rt.state.update(func(current Lifecycle) (Lifecycle, error) {
		run = rt.run
		if current == StateRunning {
			return StateStopping, nil
		}
		return current, nil
	})
	if run == nil {
		return nil
	}

	rt.logger.Info(ctx, "stopping runtime", observability.Int64("in_flight", rt.InFlight()))
	run.signal()

	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		run.force()
		<-run.done
		err := &ShutdownError{Message: "graceful drain did not finish before the deadline", Err: ctx.Err()}
		rt.logger.Warn(context.WithoutCancel(ctx), "runtime forced down", observability.Error(err))
		return err
	}
}

func (rt *Runtime) State() Lifecycle { return rt.state.load() }

func (rt *Runtime) IsRunning() bool { return rt.State() == StateRunning }

// InFlight is the number of deliveries handed to processors and not yet
// settled.
func (rt *Runtime) InFlight() int64 {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var n int64
	for _, r := range rt.runners {
		n += r.inFlight.Load()
	}
	return n
}

// RunnerStates reports the state of each runner by queue. It is empty while
// the runtime is stopped.
func (rt *Runtime) RunnerStates() map[string]RunnerState {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	states := make(map[string]RunnerState, len(rt.runners))
	for _, r := range rt.runners {
		states[r.cfg.Queue] = r.State()
	}
	return states
}

// HealthCheck forces a connection attempt and reports whether the broker is
// reachable.
func (rt *Runtime) HealthCheck(ctx context.Context) bool {
	return rt.conn.HealthCheck(ctx)
}
