package rabbitmq

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability/fake"
)

func newTestProcessor(t *testing.T, handler Handler, sleeper *recordingSleeper, opts ...ConsumerOption) (*processor, *fake.FakeLogger) {
	t.Helper()
	inst, err := NewInstrumentation("test")
	require.NoError(t, err)

	opts = append([]ConsumerOption{WithRetryDelay(time.Second), WithMaxRetries(3)}, opts...)
	cfg := NewConsumerConfig("tasks.insert", "tasks", "task.created", handler, opts...)
	require.NoError(t, cfg.Validate())

	logger := fake.NewFakeLogger()
	return newProcessor(cfg, logger, inst, sleeper.sleep, nil), logger
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{5 * time.Second, 1, 5 * time.Second},
		{5 * time.Second, 2, 20 * time.Second},
		{5 * time.Second, 3, 45 * time.Second},
		{time.Second, 4, 16 * time.Second},
		{0, 3, 0},
		{time.Second, 0, 0},
		{time.Hour, 1 << 20, time.Duration(math.MaxInt64)},
		{2 * time.Nanosecond, 1 << 31, time.Duration(math.MaxInt64)},
		{time.Nanosecond, 1 << 32, time.Duration(math.MaxInt64)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RetryDelay(tt.base, tt.attempt))
	}
}

func TestBodyPreview(t *testing.T) {
	assert.Equal(t, "short", bodyPreview([]byte("short")))
	long := strings.Repeat("x", 250)
	assert.Len(t, bodyPreview([]byte(long)), BodyPreviewLength)
}

func TestProcessorAcksOnFirstSuccess(t *testing.T) {
	sleeper := &recordingSleeper{}
	var received any
	proc, logger := newTestProcessor(t, func(_ context.Context, body any, _ amqp.Delivery) error {
		received = body
		return nil
	}, sleeper)

	ack := newAcknowledger()
	err := proc.process(context.Background(), context.Background(), delivery(ack, 7, `{"title":"write docs"}`))

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "write docs"}, received)
	ack.AssertCalled(t, "Ack", uint64(7), false)
	ack.AssertNotCalled(t, "Reject", uint64(7), false)
	assert.Empty(t, sleeper.Delays())

	entries := logger.EntriesWithMessage("message processed successfully")
	require.Len(t, entries, 1)
	queue, _ := entries[0].Field("queue")
	assert.Equal(t, "tasks.insert", queue)
	tag, _ := entries[0].Field("delivery_tag")
	assert.Equal(t, int64(7), tag)
	_, ok := entries[0].Field("processing_id")
	assert.True(t, ok)
}

func TestProcessorRetriesWithQuadraticBackoff(t *testing.T) {
	sleeper := &recordingSleeper{}
	var calls atomic.Int32
	proc, logger := newTestProcessor(t, func(context.Context, any, amqp.Delivery) error {
		if calls.Add(1) < 3 {
			return errors.New("database unavailable")
		}
		return nil
	}, sleeper)

	ack := newAcknowledger()
	err := proc.process(context.Background(), context.Background(), delivery(ack, 1, `{}`))

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 4 * time.Second}, sleeper.Delays())
	ack.AssertNumberOfCalls(t, "Ack", 1)
	ack.AssertNumberOfCalls(t, "Reject", 0)
	assert.Len(t, logger.EntriesWithMessage("message processing failed, retrying"), 2)
}

func TestProcessorRejectsAfterRetriesExhausted(t *testing.T) {
	sleeper := &recordingSleeper{}
	var calls atomic.Int32
	handlerErr := errors.New("boom")
	proc, logger := newTestProcessor(t, func(context.Context, any, amqp.Delivery) error {
		calls.Add(1)
		return handlerErr
	}, sleeper)

	body := `{"payload":"` + strings.Repeat("a", 200) + `"}`
	ack := newAcknowledger()
	err := proc.process(context.Background(), context.Background(), delivery(ack, 3, body))

	var failure *PermanentProcessingFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 4, failure.Attempts)
	assert.ErrorIs(t, err, handlerErr)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 4 * time.Second, 9 * time.Second}, sleeper.Delays())
	ack.AssertCalled(t, "Reject", uint64(3), false)
	ack.AssertNumberOfCalls(t, "Ack", 0)
	ack.AssertNumberOfCalls(t, "Nack", 0)

	entries := logger.EntriesAtLevel(observability.LogLevelError)
	require.Len(t, entries, 1)
	preview, _ := entries[0].Field("body_preview")
	assert.Equal(t, body[:BodyPreviewLength], preview)
}

func TestProcessorTreatsDecodeFailureAsAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	var calls atomic.Int32
	proc, _ := newTestProcessor(t, func(context.Context, any, amqp.Delivery) error {
		calls.Add(1)
		return nil
	}, sleeper, WithMaxRetries(1))

	ack := newAcknowledger()
	err := proc.process(context.Background(), context.Background(), delivery(ack, 9, "not json"))

	var failure *PermanentProcessingFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 2, failure.Attempts)
	assert.Zero(t, calls.Load())
	assert.Equal(t, []time.Duration{time.Second}, sleeper.Delays())
	ack.AssertCalled(t, "Reject", uint64(9), false)
}

func TestProcessorTimesOutSlowHandler(t *testing.T) {
	sleeper := &recordingSleeper{}
	proc, _ := newTestProcessor(t, func(ctx context.Context, _ any, _ amqp.Delivery) error {
		<-ctx.Done()
		return ctx.Err()
	}, sleeper, WithMaxRetries(1), WithHandlerTimeout(20*time.Millisecond))

	ack := newAcknowledger()
	err := proc.process(context.Background(), context.Background(), delivery(ack, 2, `{}`))

	var timeout *HandlerTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "tasks.insert", timeout.Queue)
	assert.Equal(t, 20*time.Millisecond, timeout.Timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, sleeper.Delays(), 1)
	ack.AssertCalled(t, "Reject", uint64(2), false)
}

func TestProcessorRecoversHandlerPanic(t *testing.T) {
	proc, _ := newTestProcessor(t, func(context.Context, any, amqp.Delivery) error {
		panic("nil map")
	}, &recordingSleeper{}, WithMaxRetries(0))

	ack := newAcknowledger()
	err := proc.process(context.Background(), context.Background(), delivery(ack, 4, `{}`))

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "nil map", panicErr.Value)
	ack.AssertCalled(t, "Reject", uint64(4), false)
}

func TestProcessorRequeuesWhenShutdownInterruptsRetry(t *testing.T) {
	sleeper := &recordingSleeper{err: context.Canceled}
	proc, _ := newTestProcessor(t, func(context.Context, any, amqp.Delivery) error {
		return errors.New("transient")
	}, sleeper)

	ack := newAcknowledger()
	err := proc.process(context.Background(), context.Background(), delivery(ack, 5, `{}`))

	require.ErrorIs(t, err, ErrProcessingInterrupted)
	ack.AssertCalled(t, "Nack", uint64(5), false, true)
	ack.AssertNumberOfCalls(t, "Reject", 0)
	ack.AssertNumberOfCalls(t, "Ack", 0)
}

func TestProcessorRequeuesWhenDrainIsForced(t *testing.T) {
	drainCtx, force := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	proc, _ := newTestProcessor(t, func(context.Context, any, amqp.Delivery) error {
		close(started)
		<-release
		return nil
	}, &recordingSleeper{})

	ack := newAcknowledger()
	errCh := make(chan error, 1)
	go func() {
		errCh <- proc.process(drainCtx, context.Background(), delivery(ack, 6, `{}`))
	}()

	<-started
	force()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrProcessingInterrupted)
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not give up after forced drain")
	}
	ack.AssertCalled(t, "Nack", uint64(6), false, true)
}

func TestJSONHandlerDecodesIntoType(t *testing.T) {
	type task struct {
		Title string `json:"title"`
	}
	var got task
	h := JSONHandler(func(_ context.Context, msg task, _ amqp.Delivery) error {
		got = msg
		return nil
	})

	require.NoError(t, h(context.Background(), nil, amqp.Delivery{Body: []byte(`{"title":"ship"}`)}))
	assert.Equal(t, "ship", got.Title)

	err := h(context.Background(), nil, amqp.Delivery{Body: []byte(`[`)})
	assert.Error(t, err)
}
