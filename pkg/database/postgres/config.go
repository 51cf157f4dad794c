package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability/noop"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 6
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = 2 * time.Minute
	defaultPingTimeout     = 5 * time.Second
)

var (
	ErrMissingDSN          = errors.New("postgres: DSN cannot be empty")
	ErrInvalidMaxOpenConns = errors.New("postgres: max open connections must be greater than 0")
	ErrInvalidMaxIdleConns = errors.New("postgres: max idle connections must be between 0 and max open connections")
	ErrClosed              = errors.New("postgres: database has been shut down")
)

type config struct {
	dsn             string
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	connMaxIdleTime time.Duration
	pingTimeout     time.Duration
	statsMetrics    bool
	sqlCommenter    bool
	logger          observability.Logger
}

func defaultConfig(dsn string) *config {
	return &config{
		dsn:             dsn,
		maxOpenConns:    defaultMaxOpenConns,
		maxIdleConns:    defaultMaxIdleConns,
		connMaxLifetime: defaultConnMaxLifetime,
		connMaxIdleTime: defaultConnMaxIdleTime,
		pingTimeout:     defaultPingTimeout,
		statsMetrics:    true,
		logger:          noop.NewProvider().Logger(),
	}
}

func (c *config) validate() error {
	var errs []error
	if strings.TrimSpace(c.dsn) == "" {
		errs = append(errs, ErrMissingDSN)
	}
	if c.maxOpenConns <= 0 {
		errs = append(errs, fmt.Errorf("%w: got %d", ErrInvalidMaxOpenConns, c.maxOpenConns))
	}
	if c.maxIdleConns < 0 || c.maxIdleConns > c.maxOpenConns {
		errs = append(errs, fmt.Errorf("%w: got %d", ErrInvalidMaxIdleConns, c.maxIdleConns))
	}
	return errors.Join(errs...)
}

type Option func(*config)

func WithMaxOpenConns(n int) Option {
	return func(c *config) { c.maxOpenConns = n }
}

func WithMaxIdleConns(n int) Option {
	return func(c *config) { c.maxIdleConns = n }
}

func WithConnMaxLifetime(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.connMaxLifetime = d
		}
	}
}

func WithConnMaxIdleTime(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.connMaxIdleTime = d
		}
	}
}

func WithPingTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pingTimeout = d
		}
	}
}

// WithStatsMetrics toggles the otelsql connection pool gauges.
func WithStatsMetrics(enabled bool) Option {
	return func(c *config) { c.statsMetrics = enabled }
}

// WithSQLCommenter appends the trace context to every statement as a SQL
// comment. Leave it off where statement text is logged verbatim.
func WithSQLCommenter(enabled bool) Option {
	return func(c *config) { c.sqlCommenter = enabled }
}

func WithLogger(logger observability.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}
