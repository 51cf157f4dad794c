package rabbitmq

import "time"

type RuntimeOption func(*Runtime)

// WithStrategy replaces the default URL dial strategy.
func WithStrategy(strategy ConnectionStrategy) RuntimeOption {
	return func(rt *Runtime) {
		if strategy != nil {
			rt.strategy = strategy
		}
	}
}

// WithSleeper replaces the wait between retries. Tests use it to observe
// retry delays without sleeping.
func WithSleeper(sleep Sleeper) RuntimeOption {
	return func(rt *Runtime) {
		if sleep != nil {
			rt.sleep = sleep
		}
	}
}

// WithMiddleware wraps every registered handler. The first middleware is the
// outermost.
func WithMiddleware(mws ...Middleware) RuntimeOption {
	return func(rt *Runtime) {
		rt.middlewares = append(rt.middlewares, mws...)
	}
}

func WithInstrumentation(inst *Instrumentation) RuntimeOption {
	return func(rt *Runtime) {
		if inst != nil {
			rt.inst = inst
		}
	}
}

// WithShutdownTimeout bounds how long a shutdown that was not given a
// deadline waits for in-flight messages.
func WithShutdownTimeout(timeout time.Duration) RuntimeOption {
	return func(rt *Runtime) {
		if timeout > 0 {
			rt.shutdownTimeout = timeout
		}
	}
}

// WithRegistry lets several runtimes share one registry. Registration stays
// closed while any of them runs.
func WithRegistry(registry *Registry) RuntimeOption {
	return func(rt *Runtime) {
		if registry != nil {
			rt.registry = registry
		}
	}
}
