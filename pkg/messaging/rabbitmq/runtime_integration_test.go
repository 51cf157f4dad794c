//go:build integration

package rabbitmq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"

	"github.com/JailtonJunior94/mqconsumer/pkg/messaging/rabbitmq"
	"github.com/JailtonJunior94/mqconsumer/pkg/messaging/rabbitmq/rabbitmqtest"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability/fake"
)

type taskCreated struct {
	Title string `json:"title"`
}

type RuntimeIntegrationSuite struct {
	suite.Suite

	ctx       context.Context
	broker    *rabbitmqtest.Container
	provider  *fake.Provider
	runtime   *rabbitmq.Runtime
	publisher *rabbitmq.Publisher
	received  chan taskCreated
	runErr    chan error
}

func TestRuntimeIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RuntimeIntegrationSuite))
}

func (s *RuntimeIntegrationSuite) SetupSuite() {
	s.broker = rabbitmqtest.Start(s.T())
}

func (s *RuntimeIntegrationSuite) SetupTest() {
	s.ctx = context.Background()
	s.provider = fake.NewProvider()
	s.received = make(chan taskCreated, 8)

	cfg := rabbitmq.DefaultConnectionConfig()
	cfg.URL = s.broker.URL

	rt, err := rabbitmq.NewRuntime(s.provider, cfg,
		rabbitmq.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	s.Require().NoError(err)
	s.runtime = rt

	s.Require().NoError(rt.Register(rabbitmq.NewConsumerConfig("it.tasks.insert", "it.tasks", "task.created",
		rabbitmq.JSONHandler(func(_ context.Context, msg taskCreated, _ amqp.Delivery) error {
			if msg.Title == "" {
				return errors.New("title is required")
			}
			s.received <- msg
			return nil
		}),
		rabbitmq.WithExclusive(false),
		rabbitmq.WithMaxRetries(1),
		rabbitmq.WithHandlerTimeout(5*time.Second),
	)))

	s.runErr = make(chan error, 1)
	go func() { s.runErr <- rt.Start(s.ctx) }()
	s.Require().Eventually(rt.IsRunning, 30*time.Second, 50*time.Millisecond)
	s.Require().Eventually(func() bool {
		return rt.RunnerStates()["it.tasks.insert"] == rabbitmq.RunnerConsuming
	}, 10*time.Second, 20*time.Millisecond)

	s.publisher, err = rt.NewPublisher(s.ctx)
	s.Require().NoError(err)
}

func (s *RuntimeIntegrationSuite) TearDownTest() {
	_ = s.publisher.Close()
	s.Require().NoError(s.runtime.Stop(s.ctx))
	s.NoError(<-s.runErr)
}

func (s *RuntimeIntegrationSuite) TestConsumesPublishedMessage() {
	_, err := s.publisher.PublishJSON(s.ctx, "it.tasks", "task.created", taskCreated{Title: "integration"}, nil)
	s.Require().NoError(err)

	select {
	case msg := <-s.received:
		s.Equal("integration", msg.Title)
	case <-time.After(10 * time.Second):
		s.FailNow("message was not consumed")
	}
	s.True(s.runtime.HealthCheck(s.ctx))
}

func (s *RuntimeIntegrationSuite) TestRejectsMessageAfterRetries() {
	_, err := s.publisher.PublishJSON(s.ctx, "it.tasks", "task.created", taskCreated{}, nil)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return len(s.provider.FakeLogger().EntriesWithMessage("message processing failed permanently")) == 1
	}, 10*time.Second, 20*time.Millisecond)
	s.Empty(s.received)
}
