package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

// Migrator applies the SQL files of an fs.FS to a postgres database.
type Migrator struct {
	config       Config
	migrate      *migrate.Migrate
	logger       observability.Logger
	databaseName string

	closeOnce sync.Once
	closedMu  sync.RWMutex
	closed    bool
}

// New validates the configuration and opens the source and the database.
//
//	//go:embed migrations/*.sql
//	var migrations embed.FS
//
//	migrator, err := migration.New(
//	    migration.WithDSN(dsn),
//	    migration.WithSource(migrations, "migrations"),
//	    migration.WithLogger(logger),
//	)
func New(opts ...Option) (*Migrator, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid migration configuration: %w", err)
	}

	ctx := context.Background()
	logger := config.Logger.With(observability.String("component", "migration"))
	databaseName := config.databaseName()

	source, err := iofs.New(config.Source, config.Path)
	if err != nil {
		logger.Error(ctx, "failed to open migration source", observability.Error(err), observability.String("path", config.Path))
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}

	databaseURL, err := config.databaseURL()
	if err != nil {
		_ = source.Close()
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		_ = source.Close()
		logger.Error(ctx, "failed to initialize migrate instance", observability.Error(err))
		return nil, fmt.Errorf("failed to initialize migrate instance: %w", err)
	}

	logger.Info(ctx, "migrator initialized", observability.String("database", databaseName))

	return &Migrator{
		config:       config,
		migrate:      m,
		logger:       logger,
		databaseName: databaseName,
	}, nil
}

// Up applies every pending migration. An up-to-date database is not an error.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", m.migrate.Up)
}

// Down rolls back every applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	m.logger.Warn(ctx, "rolling back all migrations", observability.String("database", m.databaseName))
	return m.run(ctx, "down", m.migrate.Down)
}

// Steps migrates n versions up, or down when n is negative.
func (m *Migrator) Steps(ctx context.Context, n int) error {
	return m.run(ctx, "steps", func() error { return m.migrate.Steps(n) })
}

func (m *Migrator) run(ctx context.Context, operation string, fn func() error) error {
	if err := m.checkClosed(); err != nil {
		return err
	}

	fields := []observability.Field{
		observability.String("operation", operation),
		observability.String("database", m.databaseName),
	}
	m.logger.Info(ctx, "starting migration", fields...)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- fn()
	}()

	var err error
	select {
	case <-ctx.Done():
		// Ask golang-migrate to stop after the current file, then wait for it.
		select {
		case m.migrate.GracefulStop <- true:
		default:
		}
		<-errChan
		m.logger.Error(ctx, "migration timed out", observability.Merge(fields, observability.Duration("timeout", m.config.Timeout))...)
		return fmt.Errorf("migration %s timed out after %v: %w", operation, m.config.Timeout, ctx.Err())
	case err = <-errChan:
	}

	fields = append(fields, observability.Duration("duration", time.Since(start)))

	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info(ctx, "no migrations to apply", fields...)
		return nil
	}

	var dirty migrate.ErrDirty
	if errors.As(err, &dirty) {
		m.logger.Error(ctx, "database is in a dirty state", observability.Merge(fields, observability.Int("version", dirty.Version))...)
		return &MigrationError{Operation: operation, Version: uint(dirty.Version), Err: ErrDirtyDatabase}
	}

	version, _, _ := m.migrate.Version()
	if err != nil {
		m.logger.Error(ctx, "migration failed", observability.Merge(fields, observability.Error(err), observability.Int64("version", int64(version)))...)
		return &MigrationError{Operation: operation, Version: version, Err: err}
	}

	m.logger.Info(ctx, "migration completed", observability.Merge(fields, observability.Int64("version", int64(version)))...)
	return nil
}

// Version reports the applied version. A database with no migrations
// reports (0, false, nil).
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	if err := m.checkClosed(); err != nil {
		return 0, false, err
	}

	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		m.logger.Error(ctx, "failed to read migration version", observability.Error(err))
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Close releases the source and database handles. Calling it again is a no-op.
func (m *Migrator) Close() error {
	var closeErr error

	m.closeOnce.Do(func() {
		m.closedMu.Lock()
		m.closed = true
		m.closedMu.Unlock()

		sourceErr, dbErr := m.migrate.Close()
		closeErr = errors.Join(sourceErr, dbErr)
		if closeErr != nil {
			m.logger.Error(context.Background(), "failed to close migrator", observability.Error(closeErr))
		}
	})

	return closeErr
}

func (m *Migrator) checkClosed() error {
	m.closedMu.RLock()
	defer m.closedMu.RUnlock()

	if m.closed {
		return ErrAlreadyClosed
	}
	return nil
}
