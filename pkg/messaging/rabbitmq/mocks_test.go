package rabbitmq

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"
)

func noopHandler(context.Context, any, amqp.Delivery) error { return nil }

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	args := m.Called(prefetchCount, prefetchSize, global)
	return args.Error(0)
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, table amqp.Table) error {
	args := m.Called(name, kind, durable, autoDelete, internal, noWait, table)
	return args.Error(0)
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, table amqp.Table) (amqp.Queue, error) {
	args := m.Called(name, durable, autoDelete, exclusive, noWait, table)
	if fn, ok := args.Get(0).(func(string) amqp.Queue); ok {
		return fn(name), args.Error(1)
	}
	return args.Get(0).(amqp.Queue), args.Error(1)
}

func (m *mockChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, table amqp.Table) (amqp.Queue, error) {
	args := m.Called(name, durable, autoDelete, exclusive, noWait, table)
	return args.Get(0).(amqp.Queue), args.Error(1)
}

func (m *mockChannel) QueueBind(name, key, exchange string, noWait bool, table amqp.Table) error {
	args := m.Called(name, key, exchange, noWait, table)
	return args.Error(0)
}

func (m *mockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, table amqp.Table) (<-chan amqp.Delivery, error) {
	args := m.Called(queue, consumer, autoAck, exclusive, noLocal, noWait, table)
	deliveries, _ := args.Get(0).(<-chan amqp.Delivery)
	return deliveries, args.Error(1)
}

func (m *mockChannel) Cancel(consumer string, noWait bool) error {
	args := m.Called(consumer, noWait)
	return args.Error(0)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func (m *mockChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return receiver
}

func (m *mockChannel) Close() error {
	args := m.Called()
	return args.Error(0)
}

// readyChannel accepts every call a runner makes and serves deliveries from
// the returned channel. Queues are reported as absent so they get declared.
func readyChannel() (*mockChannel, chan amqp.Delivery) {
	ch := &mockChannel{}
	return ch, acceptAll(ch)
}

// acceptAll registers permissive expectations on ch. Expectations added
// before it take precedence.
func acceptAll(ch *mockChannel) chan amqp.Delivery {
	deliveries := make(chan amqp.Delivery)
	ch.On("Qos", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ch.On("QueueDeclarePassive", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(amqp.Queue{}, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND"})
	ch.On("QueueDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(func(name string) amqp.Queue { return amqp.Queue{Name: name} }, nil)
	ch.On("QueueBind", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ch.On("Consume", mock.Anything, mock.Anything, false, false, false, false, mock.Anything).
		Return((<-chan amqp.Delivery)(deliveries), nil)
	ch.On("Cancel", mock.Anything, false).Return(nil)
	ch.On("Close").Return(nil)
	return deliveries
}

// fakeConnection hands out ch for every Channel call and closes its
// notification channels on Close like a real connection does.
type fakeConnection struct {
	mu       sync.Mutex
	ch       Channel
	err      error
	closed   bool
	notifies []chan *amqp.Error
}

func (c *fakeConnection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.ch, nil
}

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifies = append(c.notifies, receiver)
	return receiver
}

func (c *fakeConnection) NotifyBlocked(receiver chan amqp.Blocking) chan amqp.Blocking {
	return receiver
}

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	for _, n := range c.notifies {
		close(n)
	}
	return nil
}

type mockAcknowledger struct {
	mock.Mock

	// settled receives "ack", "nack" or "reject" for every settlement.
	settled chan string
}

func (m *mockAcknowledger) notify(outcome string) {
	if m.settled != nil {
		m.settled <- outcome
	}
}

func (m *mockAcknowledger) Ack(tag uint64, multiple bool) error {
	args := m.Called(tag, multiple)
	m.notify("ack")
	return args.Error(0)
}

func (m *mockAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	args := m.Called(tag, multiple, requeue)
	m.notify("nack")
	return args.Error(0)
}

func (m *mockAcknowledger) Reject(tag uint64, requeue bool) error {
	args := m.Called(tag, requeue)
	m.notify("reject")
	return args.Error(0)
}

func newAcknowledger() *mockAcknowledger {
	ack := &mockAcknowledger{settled: make(chan string, 16)}
	ack.On("Ack", mock.Anything, false).Return(nil).Maybe()
	ack.On("Nack", mock.Anything, false, mock.Anything).Return(nil).Maybe()
	ack.On("Reject", mock.Anything, mock.Anything).Return(nil).Maybe()
	return ack
}

func delivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		RoutingKey:   "task.created",
		Body:         []byte(body),
	}
}

// recordingSleeper captures requested retry pauses without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
