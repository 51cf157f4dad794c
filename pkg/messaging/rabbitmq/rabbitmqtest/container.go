// Package rabbitmqtest starts a disposable broker for integration tests.
package rabbitmqtest

import (
	"context"
	"testing"

	rabbit "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

const Image = "rabbitmq:4.0.2-management-alpine"

type Container struct {
	container *rabbit.RabbitMQContainer
	URL       string
}

// Start runs a broker and registers its termination with t.Cleanup.
func Start(t testing.TB) *Container {
	t.Helper()
	ctx := context.Background()

	container, err := rabbit.Run(ctx, Image)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate rabbitmq container: %v", err)
		}
	})

	url, err := container.AmqpURL(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return &Container{container: container, URL: url}
}
