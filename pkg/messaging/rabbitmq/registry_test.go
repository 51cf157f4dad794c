package rabbitmq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRegistrySealing(t *testing.T) {
	t.Run("sealed registry refuses registration", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(NewConsumerConfig("a", "tasks", "rk", noopHandler)))
		require.Len(t, r.seal(), 1)

		err := r.Register(NewConsumerConfig("b", "tasks", "rk", noopHandler))
		require.ErrorIs(t, err, ErrRegisterWhileRunning)

		r.unseal()
		require.NoError(t, r.Register(NewConsumerConfig("b", "tasks", "rk", noopHandler)))
		assert.Equal(t, 2, r.Len())
	})

	t.Run("empty registry is not sealed", func(t *testing.T) {
		r := NewRegistry()
		assert.Nil(t, r.seal())
		require.NoError(t, r.Register(NewConsumerConfig("a", "tasks", "rk", noopHandler)))
	})

	t.Run("seals are counted per runtime", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(NewConsumerConfig("a", "tasks", "rk", noopHandler)))
		require.Len(t, r.seal(), 1)
		require.Len(t, r.seal(), 1)

		r.unseal()
		err := r.Register(NewConsumerConfig("b", "tasks", "rk", noopHandler))
		require.ErrorIs(t, err, ErrRegisterWhileRunning)

		r.unseal()
		require.NoError(t, r.Register(NewConsumerConfig("b", "tasks", "rk", noopHandler)))
	})

	t.Run("unseal without seal is harmless", func(t *testing.T) {
		r := NewRegistry()
		r.unseal()
		require.NoError(t, r.Register(NewConsumerConfig("a", "tasks", "rk", noopHandler)))
		require.Len(t, r.seal(), 1)

		err := r.Register(NewConsumerConfig("b", "tasks", "rk", noopHandler))
		require.ErrorIs(t, err, ErrRegisterWhileRunning)
	})
}

func TestConsumerConfigPoolAndLimiter(t *testing.T) {
	cfg := NewConsumerConfig("audit", "events", "#", noopHandler)
	assert.Equal(t, 10, cfg.poolSize())
	assert.Nil(t, cfg.limiter())

	cfg = NewConsumerConfig("audit", "events", "#", noopHandler, WithPrefetchCount(0), WithRateLimit(50, 5))
	assert.Equal(t, 1, cfg.poolSize())
	limiter := cfg.limiter()
	require.NotNil(t, limiter)
	assert.Equal(t, rate.Limit(50), limiter.Limit())
	assert.Equal(t, 5, limiter.Burst())
}
