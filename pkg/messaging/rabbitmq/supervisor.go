package rabbitmq

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

// Starter is what Supervise restarts. *Runtime implements it.
type Starter interface {
	Start(ctx context.Context) error
}

type supervisorConfig struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
	healthyAfter    time.Duration
}

type SupervisorOption func(*supervisorConfig)

func WithRestartInterval(initial, maxInterval time.Duration) SupervisorOption {
	return func(c *supervisorConfig) {
		c.initialInterval = initial
		c.maxInterval = maxInterval
	}
}

// WithMaxRestartTime stops supervising once restarts have kept failing for
// d. Zero means never give up.
func WithMaxRestartTime(d time.Duration) SupervisorOption {
	return func(c *supervisorConfig) { c.maxElapsedTime = d }
}

// WithHealthyAfter sets how long a run must last for the restart backoff
// to start over from the initial interval.
func WithHealthyAfter(d time.Duration) SupervisorOption {
	return func(c *supervisorConfig) { c.healthyAfter = d }
}

// Supervise runs s and restarts it with exponential backoff whenever it
// stops with a retryable error. It returns nil once ctx is cancelled or s
// stops cleanly, and the error of a start that cannot succeed on retry.
func Supervise(ctx context.Context, s Starter, logger observability.Logger, opts ...SupervisorOption) error {
	cfg := supervisorConfig{
		initialInterval: time.Second,
		maxInterval:     time.Minute,
		healthyAfter:    time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.initialInterval
	policy.MaxInterval = cfg.maxInterval
	policy.MaxElapsedTime = cfg.maxElapsedTime

	restarts := 0
	operation := func() error {
		startedAt := time.Now()
		err := s.Start(ctx)
		if ctx.Err() != nil || err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		if time.Since(startedAt) >= cfg.healthyAfter {
			policy.Reset()
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		restarts++
		logger.Warn(ctx, "runtime stopped with error, restarting",
			observability.Int("restart", restarts),
			observability.Duration("wait", wait),
			observability.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		logger.Error(ctx, "runtime supervisor gave up", observability.Error(err))
	}
	return err
}
