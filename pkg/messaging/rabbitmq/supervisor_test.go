package rabbitmq_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JailtonJunior94/mqconsumer/pkg/messaging/rabbitmq"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability/fake"
)

type scriptedStarter struct {
	mu      sync.Mutex
	results []error
	calls   int
	block   bool
}

func (s *scriptedStarter) Start(ctx context.Context) error {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	if i < len(s.results) {
		return s.results[i]
	}
	if s.block {
		<-ctx.Done()
		return nil
	}
	return nil
}

func (s *scriptedStarter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastRestarts() []rabbitmq.SupervisorOption {
	return []rabbitmq.SupervisorOption{rabbitmq.WithRestartInterval(time.Millisecond, 5*time.Millisecond)}
}

func TestSuperviseRestartsAfterConnectivityFailures(t *testing.T) {
	starter := &scriptedStarter{results: []error{
		&rabbitmq.ConnectivityError{Op: "dial", Err: rabbitmq.ErrNotConnected},
		&rabbitmq.ConnectivityError{Op: "consume", Err: rabbitmq.ErrDeliveriesClosed},
	}}
	logger := fake.NewFakeLogger()

	err := rabbitmq.Supervise(context.Background(), starter, logger, fastRestarts()...)

	require.NoError(t, err)
	assert.Equal(t, 3, starter.Calls())
	assert.Len(t, logger.EntriesWithMessage("runtime stopped with error, restarting"), 2)
}

func TestSuperviseStopsOnRegistrationError(t *testing.T) {
	starter := &scriptedStarter{results: []error{&rabbitmq.RegistrationError{Err: rabbitmq.ErrNoConsumers}}}

	err := rabbitmq.Supervise(context.Background(), starter, fake.NewFakeLogger(), fastRestarts()...)

	require.ErrorIs(t, err, rabbitmq.ErrNoConsumers)
	assert.Equal(t, 1, starter.Calls())
}

func TestSuperviseReturnsNilWhenContextCancelled(t *testing.T) {
	starter := &scriptedStarter{block: true}
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- rabbitmq.Supervise(ctx, starter, fake.NewFakeLogger(), fastRestarts()...) }()

	require.Eventually(t, func() bool { return starter.Calls() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not return after cancellation")
	}
}

func TestSuperviseGivesUpAfterMaxRestartTime(t *testing.T) {
	failures := make([]error, 1000)
	for i := range failures {
		failures[i] = &rabbitmq.ConnectivityError{Op: "dial", Err: rabbitmq.ErrNotConnected}
	}
	starter := &scriptedStarter{results: failures}

	err := rabbitmq.Supervise(context.Background(), starter, fake.NewFakeLogger(),
		rabbitmq.WithRestartInterval(time.Millisecond, 2*time.Millisecond),
		rabbitmq.WithMaxRestartTime(30*time.Millisecond),
	)

	require.ErrorIs(t, err, rabbitmq.ErrNotConnected)
	assert.Greater(t, starter.Calls(), 1)
}
