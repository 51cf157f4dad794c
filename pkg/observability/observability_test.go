package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability/fake"
)

func TestFieldConstructors(t *testing.T) {
	err := errors.New("boom")
	scenarios := []struct {
		name  string
		field observability.Field
		key   string
		value any
	}{
		{name: "string", field: observability.String("queue", "orders"), key: "queue", value: "orders"},
		{name: "int", field: observability.Int("attempt", 2), key: "attempt", value: 2},
		{name: "int64", field: observability.Int64("tag", 7), key: "tag", value: int64(7)},
		{name: "float64", field: observability.Float64("ratio", 0.5), key: "ratio", value: 0.5},
		{name: "bool", field: observability.Bool("redelivered", true), key: "redelivered", value: true},
		{name: "duration", field: observability.Duration("delay", time.Second), key: "delay", value: time.Second},
		{name: "error", field: observability.Error(err), key: "error", value: err},
	}

	for _, scenario := range scenarios {
		t.Run(scenario.name, func(t *testing.T) {
			assert.Equal(t, scenario.key, scenario.field.Key)
			assert.Equal(t, scenario.value, scenario.field.Value)
		})
	}
}

func TestMergeDoesNotAliasBase(t *testing.T) {
	base := make([]observability.Field, 1, 8)
	base[0] = observability.String("a", "1")

	left := observability.Merge(base, observability.String("b", "2"))
	right := observability.Merge(base, observability.String("c", "3"))

	assert.Equal(t, "b", left[1].Key)
	assert.Equal(t, "c", right[1].Key)
	assert.Len(t, base, 1)
}

func TestContextFields(t *testing.T) {
	t.Run("empty context has no fields", func(t *testing.T) {
		assert.Nil(t, observability.FieldsFromContext(context.Background()))
	})

	t.Run("fields accumulate and later keys shadow earlier ones", func(t *testing.T) {
		ctx := observability.WithFields(context.Background(),
			observability.String("project_id", "p1"),
			observability.String("session_id", "s1"),
		)
		ctx = observability.WithFields(ctx, observability.String("project_id", "p2"))

		fields := observability.FieldsFromContext(ctx)
		require.Len(t, fields, 2)
		assert.Equal(t, observability.String("session_id", "s1"), fields[0])
		assert.Equal(t, observability.String("project_id", "p2"), fields[1])
	})

	t.Run("parent context is unaffected by children", func(t *testing.T) {
		parent := observability.WithFields(context.Background(), observability.String("a", "1"))
		_ = observability.WithFields(parent, observability.String("b", "2"))
		assert.Len(t, observability.FieldsFromContext(parent), 1)
	})
}

func TestTrack(t *testing.T) {
	t.Run("logs enter and exit with a shared temp id", func(t *testing.T) {
		logger := fake.NewFakeLogger()

		err := observability.Track(context.Background(), logger, "insert_task", func(ctx context.Context) error {
			logger.Info(ctx, "inside")
			return nil
		})
		require.NoError(t, err)

		entries := logger.GetEntries()
		require.Len(t, entries, 3)
		assert.Equal(t, "Enter insert_task", entries[0].Message)
		assert.Equal(t, "inside", entries[1].Message)
		assert.Equal(t, "Exit insert_task", entries[2].Message)

		id, ok := entries[0].Field("temp_id")
		require.True(t, ok)
		for _, e := range entries[1:] {
			other, _ := e.Field("temp_id")
			assert.Equal(t, id, other)
		}
		name, _ := entries[2].Field("func_name")
		assert.Equal(t, "insert_task", name)
	})

	t.Run("returns the wrapped error", func(t *testing.T) {
		logger := fake.NewFakeLogger()
		boom := errors.New("boom")

		err := observability.Track(context.Background(), logger, "op", func(context.Context) error { return boom })

		assert.ErrorIs(t, err, boom)
		_, hasErr := logger.EntriesWithMessage("Exit op")[0].Field("error")
		assert.True(t, hasErr)
	})
}
