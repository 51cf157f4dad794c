package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

// ConnectionManager owns the single broker connection and its control
// channel. Runners borrow the connection only to open their own channels.
type ConnectionManager struct {
	config   ConnectionConfig
	strategy ConnectionStrategy
	o11y     observability.Observability
	breaker  *gobreaker.CircuitBreaker

	mu      sync.Mutex
	conn    Connection
	control Channel
}

func NewConnectionManager(o11y observability.Observability, config ConnectionConfig, strategy ConnectionStrategy) *ConnectionManager {
	m := &ConnectionManager{
		config:   config,
		strategy: strategy,
		o11y:     o11y,
	}

	threshold := max(config.BreakerFailureThreshold, 1)
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "amqp-connect",
		MaxRequests: 1,
		Timeout:     config.BreakerResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o11y.Logger().Warn(context.Background(), "broker circuit breaker state changed",
				observability.String("breaker", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
	return m
}

// Connect is a no-op while an open connection exists. Otherwise it dials,
// opens the control channel and applies the global prefetch to it.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil && !m.conn.IsClosed() {
		return nil
	}
	m.releaseLocked(ctx)

	if err := ctx.Err(); err != nil {
		return &ConnectivityError{Op: "dial", Err: err}
	}

	result, err := m.breaker.Execute(func() (interface{}, error) {
		return m.strategy.Dial(m.config)
	})
	if err != nil {
		return &ConnectivityError{Op: "dial", Err: err}
	}
	conn := result.(Connection)

	control, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return &ConnectivityError{Op: "open control channel", Err: err}
	}
	if err := control.Qos(m.config.GlobalPrefetch, 0, true); err != nil {
		_ = conn.Close()
		return &ConnectivityError{Op: "qos", Err: err}
	}

	m.conn, m.control = conn, control
	go m.watch(conn)

	m.o11y.Logger().Info(ctx, "connected to broker",
		observability.String("strategy", m.strategy.Name()),
		observability.String("connection_name", m.config.ConnectionName),
		observability.Int("global_prefetch", m.config.GlobalPrefetch),
	)
	return nil
}

// Disconnect closes the control channel and the connection. Close errors are
// logged and swallowed.
func (m *ConnectionManager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return
	}
	m.releaseLocked(ctx)
	m.o11y.Logger().Info(ctx, "disconnected from broker")
}

func (m *ConnectionManager) releaseLocked(ctx context.Context) {
	if m.control != nil {
		if err := m.control.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			m.o11y.Logger().Warn(ctx, "failed to close control channel", observability.Error(err))
		}
	}
	if m.conn != nil && !m.conn.IsClosed() {
		if err := m.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			m.o11y.Logger().Warn(ctx, "failed to close broker connection", observability.Error(err))
		}
	}
	m.conn, m.control = nil, nil
}

// HealthCheck forces a connect attempt and reports whether it succeeded.
func (m *ConnectionManager) HealthCheck(ctx context.Context) bool {
	if err := m.Connect(ctx); err != nil {
		m.o11y.Logger().Warn(ctx, "broker health check failed", observability.Error(err))
		return false
	}
	return true
}

func (m *ConnectionManager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && !m.conn.IsClosed()
}

// OpenChannel opens a new channel on the current connection. Each runner
// owns the channel it gets here.
func (m *ConnectionManager) OpenChannel() (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || m.conn.IsClosed() {
		return nil, &ConnectivityError{Op: "open channel", Err: ErrNotConnected}
	}
	ch, err := m.conn.Channel()
	if err != nil {
		return nil, &ConnectivityError{Op: "open channel", Err: err}
	}
	return ch, nil
}

// BreakerState exposes the dial breaker for health reporting.
func (m *ConnectionManager) BreakerState() gobreaker.State {
	return m.breaker.State()
}

// watch logs connection loss and enforces BlockedConnectionTimeout. It
// returns once the connection is closed by either side.
func (m *ConnectionManager) watch(conn Connection) {
	ctx := context.Background()
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	blocked := conn.NotifyBlocked(make(chan amqp.Blocking, 1))

	var (
		timer   *time.Timer
		expired <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, expired = nil, nil
		}
	}
	defer stopTimer()

	for {
		select {
		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				m.o11y.Logger().Warn(ctx, "broker connection closed",
					observability.Int("code", amqpErr.Code),
					observability.String("reason", amqpErr.Reason),
					observability.Bool("server", amqpErr.Server),
				)
			}
			return

		case b, ok := <-blocked:
			if !ok {
				blocked = nil
				continue
			}
			if !b.Active {
				m.o11y.Logger().Info(ctx, "broker connection unblocked")
				stopTimer()
				continue
			}
			m.o11y.Logger().Warn(ctx, "broker connection blocked", observability.String("reason", b.Reason))
			if timer == nil && m.config.BlockedConnectionTimeout > 0 {
				timer = time.NewTimer(m.config.BlockedConnectionTimeout)
				expired = timer.C
			}

		case <-expired:
			timer, expired = nil, nil
			m.o11y.Logger().Error(ctx, "closing broker connection",
				observability.Error(ErrConnectionBlocked),
				observability.Duration("blocked_timeout", m.config.BlockedConnectionTimeout),
			)
			if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				m.o11y.Logger().Warn(ctx, "failed to close blocked connection", observability.Error(err))
			}
		}
	}
}
