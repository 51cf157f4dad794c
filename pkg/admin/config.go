package admin

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the admin HTTP server configuration.
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// HealthTimeout bounds one run of all checks behind /health and /ready.
	HealthTimeout time.Duration

	ServiceName    string
	ServiceVersion string
	Environment    string
}

func DefaultConfig() Config {
	return Config{
		Address:        ":9090",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		HealthTimeout:  5 * time.Second,
		ServiceName:    "taskworker",
		ServiceVersion: "unknown",
		Environment:    "development",
	}
}

func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Address) == "" {
		errs = append(errs, errors.New("address is required"))
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("read timeout must be positive, got %v", c.ReadTimeout))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("write timeout must be positive, got %v", c.WriteTimeout))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("idle timeout must be positive, got %v", c.IdleTimeout))
	}
	if c.HealthTimeout <= 0 {
		errs = append(errs, fmt.Errorf("health timeout must be positive, got %v", c.HealthTimeout))
	}

	return errors.Join(errs...)
}
