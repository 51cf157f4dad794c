package main

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/JailtonJunior94/mqconsumer/pkg/admin"
	"github.com/JailtonJunior94/mqconsumer/pkg/database/postgres"
	"github.com/JailtonJunior94/mqconsumer/pkg/messaging/rabbitmq"
	rabbitmqfx "github.com/JailtonJunior94/mqconsumer/pkg/messaging/rabbitmq/fx"
	"github.com/JailtonJunior94/mqconsumer/pkg/migration"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability/noop"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability/otel"
	"github.com/JailtonJunior94/mqconsumer/pkg/tasks"
)

// newConsumeApp wires the worker. Stop hooks run in reverse order, so the
// runtime drains before the database closes and telemetry flushes last.
func newConsumeApp(cfg Config) *fx.App {
	return fx.New(
		fx.NopLogger,
		fx.StopTimeout(cfg.Service.ShutdownTimeout+10*time.Second),
		fx.Supply(cfg, cfg.connection()),
		fx.Provide(
			newObservability,
			newDatabase,
			newTaskService,
			newTaskHandlers,
			newAdminServer,
		),
		fx.Provide(
			rabbitmqfx.AsConsumers(taskConsumers),
			rabbitmqfx.AsRuntimeOption(shutdownTimeout),
			rabbitmqfx.AsRuntimeOption(headerFields),
			rabbitmqfx.AsSupervisorOptions(Config.supervisorOptions),
		),
		rabbitmqfx.Module,
		fx.Invoke(runAdminServer),
	)
}

func newObservability(lc fx.Lifecycle, cfg Config) (observability.Observability, error) {
	if !cfg.Telemetry.Enabled {
		return noop.NewProvider(), nil
	}

	provider, err := otel.NewProvider(context.Background(), cfg.telemetry())
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(provider.Shutdown))
	return provider, nil
}

// newDatabase applies pending migrations before opening the pool, so the
// consumers never see an outdated schema.
func newDatabase(lc fx.Lifecycle, cfg Config, o11y observability.Observability) (*postgres.Database, error) {
	ctx := context.Background()

	if cfg.Postgres.AutoMigrate {
		if err := migrate(ctx, cfg, o11y.Logger(), false); err != nil {
			return nil, err
		}
	}

	db, err := postgres.New(ctx, cfg.Postgres.DSN,
		postgres.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
		postgres.WithMaxIdleConns(cfg.Postgres.MaxIdleConns),
		postgres.WithLogger(o11y.Logger()),
	)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(db.Shutdown))
	return db, nil
}

func newTaskService(db *postgres.Database, o11y observability.Observability) *tasks.Service {
	return tasks.NewService(db.DB(), tasks.Postgres, o11y.Logger())
}

func newTaskHandlers(service *tasks.Service, o11y observability.Observability) *tasks.Handlers {
	return tasks.NewHandlers(service, o11y.Logger())
}

func taskConsumers(h *tasks.Handlers, cfg Config) []rabbitmq.ConsumerConfig {
	return h.Consumers(cfg.consumerOptions()...)
}

func shutdownTimeout(cfg Config) rabbitmq.RuntimeOption {
	return rabbitmq.WithShutdownTimeout(cfg.Service.ShutdownTimeout)
}

// headerFields tags handler logs with the correlation headers publishers set.
func headerFields() rabbitmq.RuntimeOption {
	return rabbitmq.WithMiddleware(rabbitmq.HeaderFields("project_id", "space_id", "session_id"))
}

func newAdminServer(cfg Config, o11y observability.Observability, rt *rabbitmq.Runtime, db *postgres.Database) (*admin.Server, error) {
	return admin.New(o11y,
		admin.WithConfig(cfg.admin()),
		admin.WithHealthCheck("rabbitmq", rt.HealthCheckFunc()),
		admin.WithHealthCheck("postgres", db.Ping),
		admin.WithReadinessCheck("runtime", rt.ReadinessCheckFunc()),
		admin.WithCollector(admin.NewRuntimeCollector(rt)),
	)
}

func runAdminServer(lc fx.Lifecycle, srv *admin.Server) {
	lc.Append(fx.Hook{
		OnStart: srv.Start,
		OnStop:  srv.Shutdown,
	})
}

func migrate(ctx context.Context, cfg Config, logger observability.Logger, down bool) error {
	migrator, err := migration.New(
		migration.WithDSN(cfg.Postgres.DSN),
		migration.WithSource(tasks.Migrations, tasks.MigrationsDir),
		migration.WithMigrationsTable(tasks.MigrationsTable),
		migration.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer func() { _ = migrator.Close() }()

	if down {
		return migrator.Down(ctx)
	}
	return migrator.Up(ctx)
}
