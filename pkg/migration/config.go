package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability/noop"
)

// Config holds the configuration for database migrations.
type Config struct {
	// DSN is a postgres:// connection string.
	DSN string

	// Source holds the migration files, usually an embed.FS. Path is the
	// directory inside Source that contains them.
	Source fs.FS
	Path   string

	Logger observability.Logger

	// Timeout bounds a whole Up or Down run.
	Timeout time.Duration

	// LockTimeout bounds the wait for the migration advisory lock. Zero
	// waits indefinitely.
	LockTimeout time.Duration

	// StatementTimeout bounds every statement. Zero keeps the server default.
	StatementTimeout time.Duration

	MultiStatementEnabled bool
	MultiStatementMaxSize int

	// MigrationsTable overrides golang-migrate's schema_migrations table, so
	// several stores can share one database.
	MigrationsTable string
}

func DefaultConfig() Config {
	return Config{
		Path:                  ".",
		Logger:                noop.NewProvider().Logger(),
		Timeout:               5 * time.Minute,
		LockTimeout:           30 * time.Second,
		MultiStatementEnabled: true,
		MultiStatementMaxSize: 10 * 1024 * 1024,
	}
}

func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.DSN) == "" {
		errs = append(errs, ErrMissingDSN)
	}
	if c.Source == nil {
		errs = append(errs, ErrMissingSource)
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: got %v", ErrInvalidTimeout, c.Timeout))
	}
	if c.LockTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: got %v", ErrInvalidLockTimeout, c.LockTimeout))
	}
	if c.StatementTimeout < 0 {
		errs = append(errs, fmt.Errorf("statement timeout must be non-negative: got %v", c.StatementTimeout))
	}
	if c.MultiStatementEnabled && c.MultiStatementMaxSize <= 0 {
		errs = append(errs, errors.New("multi-statement max size must be positive when multi-statement is enabled"))
	}
	if c.Logger == nil {
		errs = append(errs, errors.New("logger cannot be nil"))
	}

	return errors.Join(errs...)
}

// databaseURL adds golang-migrate's x- parameters to the DSN.
func (c Config) databaseURL() (string, error) {
	parsed, err := url.Parse(c.DSN)
	if err != nil {
		return "", fmt.Errorf("invalid postgres DSN: %w", err)
	}
	parsed.Scheme = "postgres"

	query := parsed.Query()
	if c.LockTimeout > 0 {
		query.Set("x-migrations-table-lock-timeout", fmt.Sprintf("%ds", int(c.LockTimeout.Seconds())))
	}
	if c.StatementTimeout > 0 {
		query.Set("x-statement-timeout", fmt.Sprintf("%d", c.StatementTimeout.Milliseconds()))
	}
	if c.MultiStatementEnabled {
		query.Set("x-multi-statement", "true")
		query.Set("x-multi-statement-max-size", fmt.Sprintf("%d", c.MultiStatementMaxSize))
	}
	if c.MigrationsTable != "" {
		query.Set("x-migrations-table", c.MigrationsTable)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// databaseName is the last path element of the DSN, used in log records.
func (c Config) databaseName() string {
	parsed, err := url.Parse(c.DSN)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(parsed.Path, "/")
}
