package rabbitmq

import (
	"context"
	"fmt"
)

// HealthCheckFunc adapts HealthCheck to the error-returning checks the admin
// server runs.
func (rt *Runtime) HealthCheckFunc() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if !rt.HealthCheck(ctx) {
			return &ConnectivityError{Op: "health check", Err: ErrNotConnected}
		}
		return nil
	}
}

// ReadinessCheckFunc passes only while every runner is consuming.
func (rt *Runtime) ReadinessCheckFunc() func(ctx context.Context) error {
	return func(context.Context) error {
		if state := rt.State(); state != StateRunning {
			return fmt.Errorf("rabbitmq: runtime is %s", state)
		}
		for queue, state := range rt.RunnerStates() {
			if state != RunnerConsuming {
				return fmt.Errorf("rabbitmq: consumer %q is %s", queue, state)
			}
		}
		return nil
	}
}
