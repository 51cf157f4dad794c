package migration

import (
	"io/fs"
	"time"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

type Option func(*Config)

func WithDSN(dsn string) Option {
	return func(c *Config) { c.DSN = dsn }
}

// WithSource reads migrations from dir inside fsys.
func WithSource(fsys fs.FS, dir string) Option {
	return func(c *Config) {
		c.Source = fsys
		if dir != "" {
			c.Path = dir
		}
	}
}

func WithLogger(logger observability.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

func WithLockTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.LockTimeout = timeout }
}

func WithStatementTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.StatementTimeout = timeout }
}

func WithMigrationsTable(table string) Option {
	return func(c *Config) { c.MigrationsTable = table }
}
