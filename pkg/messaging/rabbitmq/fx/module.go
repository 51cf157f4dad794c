package rabbitmqfx

import (
	"context"

	"go.uber.org/fx"

	"github.com/JailtonJunior94/mqconsumer/pkg/messaging/rabbitmq"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

// Module provides a *rabbitmq.Runtime, registers every consumer in the
// "consumers" group and runs the runtime under a supervisor for the
// lifetime of the app.
//
//	fx.New(
//	    fx.Supply(connectionConfig),
//	    fx.Provide(func() observability.Observability { return provider }),
//	    fx.Provide(rabbitmqfx.AsConsumer(newInsertConsumer)),
//	    rabbitmqfx.Module,
//	)
var Module = fx.Module("rabbitmq",
	fx.Provide(ProvideRuntime),
	fx.Invoke(RegisterConsumers, RunRuntime),
)

// AsConsumer annotates a constructor returning rabbitmq.ConsumerConfig so
// its result joins the "consumers" group.
func AsConsumer(f any) any {
	return fx.Annotate(f, fx.ResultTags(`group:"consumers"`))
}

// AsConsumers annotates a constructor returning []rabbitmq.ConsumerConfig;
// every element joins the "consumers" group.
func AsConsumers(f any) any {
	return fx.Annotate(f, fx.ResultTags(`group:"consumers,flatten"`))
}

// AsSupervisorOption annotates a constructor returning
// rabbitmq.SupervisorOption.
func AsSupervisorOption(f any) any {
	return fx.Annotate(f, fx.ResultTags(`group:"supervisor_options"`))
}

// AsSupervisorOptions annotates a constructor returning
// []rabbitmq.SupervisorOption.
func AsSupervisorOptions(f any) any {
	return fx.Annotate(f, fx.ResultTags(`group:"supervisor_options,flatten"`))
}

// AsRuntimeOption annotates a constructor returning rabbitmq.RuntimeOption.
func AsRuntimeOption(f any) any {
	return fx.Annotate(f, fx.ResultTags(`group:"runtime_options"`))
}

type RuntimeParams struct {
	fx.In

	O11y    observability.Observability
	Config  rabbitmq.ConnectionConfig
	Options []rabbitmq.RuntimeOption `group:"runtime_options"`
}

func ProvideRuntime(p RuntimeParams) (*rabbitmq.Runtime, error) {
	return rabbitmq.NewRuntime(p.O11y, p.Config, p.Options...)
}

type ConsumersParams struct {
	fx.In

	Runtime   *rabbitmq.Runtime
	Consumers []rabbitmq.ConsumerConfig `group:"consumers"`
}

func RegisterConsumers(p ConsumersParams) error {
	for _, cfg := range p.Consumers {
		if err := p.Runtime.Register(cfg); err != nil {
			return err
		}
	}
	return nil
}

type RunParams struct {
	fx.In

	LC         fx.Lifecycle
	Shutdowner fx.Shutdowner
	Runtime    *rabbitmq.Runtime
	O11y       observability.Observability
	Options    []rabbitmq.SupervisorOption `group:"supervisor_options"`
}

// RunRuntime supervises the runtime in the background once the app starts.
// If the supervisor gives up the whole app is shut down with exit code 1.
func RunRuntime(p RunParams) {
	var (
		cancel context.CancelFunc
		done   = make(chan struct{})
	)

	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				if err := rabbitmq.Supervise(ctx, p.Runtime, p.O11y.Logger(), p.Options...); err != nil {
					_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := p.Runtime.Stop(ctx)
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return err
		},
	})
}
