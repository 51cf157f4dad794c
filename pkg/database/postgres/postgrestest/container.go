// Package postgrestest starts a throwaway PostgreSQL server for integration
// tests.
package postgrestest

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const Image = "postgres:16-alpine"

type Container struct {
	DSN string
}

// Start runs a postgres container and terminates it when t finishes.
func Start(t testing.TB) *Container {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, Image,
		tcpostgres.WithDatabase("tasks"),
		tcpostgres.WithUsername("taskworker"),
		tcpostgres.WithPassword("taskworker"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to read postgres connection string: %v", err)
	}

	return &Container{DSN: dsn}
}
