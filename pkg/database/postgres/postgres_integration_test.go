//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JailtonJunior94/mqconsumer/pkg/database"
	"github.com/JailtonJunior94/mqconsumer/pkg/database/postgres"
	"github.com/JailtonJunior94/mqconsumer/pkg/database/postgres/postgrestest"
	"github.com/JailtonJunior94/mqconsumer/pkg/database/uow"
)

func TestIntegration_Database(t *testing.T) {
	container := postgrestest.Start(t)
	ctx := context.Background()

	db, err := postgres.New(ctx, container.DSN, postgres.WithMaxOpenConns(4), postgres.WithMaxIdleConns(2))
	require.NoError(t, err)

	require.NoError(t, db.Ping(ctx))
	_, err = db.DB().ExecContext(ctx, `CREATE TABLE uow_tasks (id SERIAL PRIMARY KEY, status TEXT NOT NULL)`)
	require.NoError(t, err)

	t.Run("commit", func(t *testing.T) {
		err := uow.NewUnitOfWork(db.DB()).Do(ctx, func(ctx context.Context, tx database.DBTX) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO uow_tasks (status) VALUES ($1)`, "pending")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, countRows(t, db.DB()))
	})

	t.Run("rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := uow.NewUnitOfWork(db.DB(), uow.WithIsolationLevel(sql.LevelSerializable)).Do(ctx, func(ctx context.Context, tx database.DBTX) error {
			if _, err := tx.ExecContext(ctx, `INSERT INTO uow_tasks (status) VALUES ($1)`, "running"); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 1, countRows(t, db.DB()))
	})

	t.Run("read only", func(t *testing.T) {
		err := uow.NewUnitOfWork(db.DB(), uow.WithReadOnly(true)).Do(ctx, func(ctx context.Context, tx database.DBTX) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO uow_tasks (status) VALUES ($1)`, "failed")
			return err
		})
		assert.Error(t, err)
	})

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, db.Shutdown(shutdownCtx))
	require.NoError(t, db.Shutdown(shutdownCtx))
	assert.Nil(t, db.DB())
	assert.ErrorIs(t, db.Ping(ctx), postgres.ErrClosed)
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM uow_tasks`).Scan(&n))
	return n
}
