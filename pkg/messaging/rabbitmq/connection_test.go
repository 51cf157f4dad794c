package rabbitmq

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability/fake"
)

// blockableConnection exposes the receiver registered through NotifyBlocked
// so tests can play connection.blocked notifications.
type blockableConnection struct {
	*fakeConnection
	registered chan chan amqp.Blocking
}

func newBlockableConnection() *blockableConnection {
	return &blockableConnection{
		fakeConnection: &fakeConnection{},
		registered:     make(chan chan amqp.Blocking, 1),
	}
}

func (c *blockableConnection) NotifyBlocked(receiver chan amqp.Blocking) chan amqp.Blocking {
	c.registered <- receiver
	return receiver
}

func watchBlocked(t *testing.T, timeout time.Duration) (*blockableConnection, chan amqp.Blocking, *fake.Provider, <-chan struct{}) {
	t.Helper()

	o11y := fake.NewProvider()
	cfg := DefaultConnectionConfig()
	cfg.BlockedConnectionTimeout = timeout
	m := NewConnectionManager(o11y, cfg, nil)

	conn := newBlockableConnection()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.watch(conn)
	}()

	select {
	case blocked := <-conn.registered:
		return conn, blocked, o11y, done
	case <-time.After(time.Second):
		t.Fatal("watcher never subscribed to blocked notifications")
		return nil, nil, nil, nil
	}
}

func TestWatchClosesConnectionBlockedTooLong(t *testing.T) {
	conn, blocked, o11y, done := watchBlocked(t, 20*time.Millisecond)

	blocked <- amqp.Blocking{Active: true, Reason: "low on memory"}

	require.Eventually(t, conn.IsClosed, time.Second, 5*time.Millisecond)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not return after the connection closed")
	}
	assert.NotEmpty(t, o11y.FakeLogger().EntriesWithMessage("broker connection blocked"))
	assert.NotEmpty(t, o11y.FakeLogger().EntriesWithMessage("closing broker connection"))
}

func TestWatchKeepsConnectionUnblockedInTime(t *testing.T) {
	conn, blocked, o11y, done := watchBlocked(t, 50*time.Millisecond)

	blocked <- amqp.Blocking{Active: true, Reason: "low on memory"}
	blocked <- amqp.Blocking{Active: false}

	require.Eventually(t, func() bool {
		return len(o11y.FakeLogger().EntriesWithMessage("broker connection unblocked")) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.False(t, conn.IsClosed())

	require.NoError(t, conn.Close())
	<-done
}
