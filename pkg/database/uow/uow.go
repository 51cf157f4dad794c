package uow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JailtonJunior94/mqconsumer/pkg/database"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability/noop"
)

// TxFunc is the work done inside a transaction.
type TxFunc func(ctx context.Context, db database.DBTX) error

// UnitOfWork runs a callback inside one database transaction. Every Do call
// opens its own transaction, so one UnitOfWork can be shared by goroutines.
type UnitOfWork interface {
	// Do commits when fn returns nil and rolls back otherwise. A panic in fn
	// rolls back and is re-raised. ctx is checked before Begin and after fn.
	Do(ctx context.Context, fn TxFunc) error
}

type unitOfWork struct {
	db     *sql.DB
	txOpts *sql.TxOptions
	logger observability.Logger
}

type UnitOfWorkOption func(*unitOfWork)

func WithIsolationLevel(level sql.IsolationLevel) UnitOfWorkOption {
	return func(u *unitOfWork) {
		u.ensureTxOptions().Isolation = level
	}
}

func WithReadOnly(readOnly bool) UnitOfWorkOption {
	return func(u *unitOfWork) {
		u.ensureTxOptions().ReadOnly = readOnly
	}
}

// WithLogger receives rollback failures, which are otherwise only folded
// into the returned error.
func WithLogger(logger observability.Logger) UnitOfWorkOption {
	return func(u *unitOfWork) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// NewUnitOfWork panics on a nil db.
func NewUnitOfWork(db *sql.DB, opts ...UnitOfWorkOption) UnitOfWork {
	if db == nil {
		panic("uow: nil *sql.DB")
	}

	u := &unitOfWork{db: db, logger: noop.NewProvider().Logger()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *unitOfWork) ensureTxOptions() *sql.TxOptions {
	if u.txOpts == nil {
		u.txOpts = &sql.TxOptions{}
	}
	return u.txOpts
}

func (u *unitOfWork) Do(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("uow: context done before begin: %w", err)
	}

	tx, err := u.db.BeginTx(ctx, u.txOpts)
	if err != nil {
		return fmt.Errorf("uow: begin: %w", err)
	}

	done := false
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if !done {
			u.rollback(ctx, tx, "panic")
		}
		panic(p)
	}()

	if err := fn(ctx, tx); err != nil {
		done = true
		return errors.Join(err, u.rollback(ctx, tx, "callback error"))
	}

	if err := ctx.Err(); err != nil {
		done = true
		return errors.Join(fmt.Errorf("uow: context done before commit: %w", err), u.rollback(ctx, tx, "context done"))
	}

	done = true
	// A failed commit already ends the transaction; rolling back again would
	// only bury the commit error under sql.ErrTxDone.
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("uow: commit: %w", err)
	}
	return nil
}

// rollback returns nil when the transaction was already closed by the driver.
func (u *unitOfWork) rollback(ctx context.Context, tx *sql.Tx, reason string) error {
	err := tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	u.logger.Error(ctx, "transaction rollback failed",
		observability.String("reason", reason),
		observability.Error(err),
	)
	return fmt.Errorf("uow: rollback: %w", err)
}
