package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JailtonJunior94/mqconsumer/pkg/database/postgres"
	"github.com/JailtonJunior94/mqconsumer/pkg/messaging/rabbitmq"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability/noop"
	"github.com/JailtonJunior94/mqconsumer/pkg/tasks"
)

var errUnhealthy = errors.New("broker is not reachable")

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "taskworker",
		Short:        "Consumes task queue messages and keeps session task lists ordered",
		SilenceUsage: true,
	}

	root.AddCommand(
		consumeCommand(),
		publishCommand(),
		migrateCommand(),
		healthCommand(),
		listCommand(),
	)
	return root
}

func consumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Run the task consumers until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Load()
			if err != nil {
				return err
			}

			app := newConsumeApp(cfg)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func publishCommand() *cobra.Command {
	var (
		exchange   string
		routingKey string
		body       string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one JSON message",
		Example: `  taskworker publish --routing-key task.insert \
    --body '{"session_id":"0b7f...","after_order":0,"data":{"task_description":"plan"}}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var payload json.RawMessage
			if err := json.Unmarshal([]byte(body), &payload); err != nil {
				return fmt.Errorf("--body must be valid JSON: %w", err)
			}

			cfg, err := Load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := rabbitmq.NewRuntime(noop.NewProvider(), cfg.connection())
			if err != nil {
				return err
			}
			defer rt.Connection().Disconnect(context.WithoutCancel(ctx))

			publisher, err := rt.NewPublisher(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = publisher.Close() }()

			id, err := publisher.PublishJSON(ctx, exchange, routingKey, payload, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s/%s\n", id, exchange, routingKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&exchange, "exchange", tasks.Exchange, "exchange to publish to")
	cmd.Flags().StringVar(&routingKey, "routing-key", tasks.InsertRoutingKey, "routing key")
	cmd.Flags().StringVar(&body, "body", "", "JSON message body")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func migrateCommand() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the task store migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return migrate(ctx, cfg, noop.NewProvider().Logger(), down)
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "roll back every migration instead")
	return cmd
}

func healthCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Exit 0 when the broker is reachable, 1 otherwise",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			rt, err := rabbitmq.NewRuntime(noop.NewProvider(), cfg.connection())
			if err != nil {
				return err
			}
			defer rt.Connection().Disconnect(context.WithoutCancel(ctx))

			if !rt.HealthCheck(ctx) {
				return errUnhealthy
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the broker")
	return cmd
}

func listCommand() *cobra.Command {
	var (
		sessionID string
		status    string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the tasks of a session in order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter tasks.Status
			if status != "" {
				parsed, err := tasks.ParseStatus(status)
				if err != nil {
					return err
				}
				filter = parsed
			}

			cfg, err := Load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			logger := noop.NewProvider().Logger()
			db, err := postgres.New(ctx, cfg.Postgres.DSN, postgres.WithLogger(logger), postgres.WithStatsMetrics(false))
			if err != nil {
				return err
			}
			defer func() { _ = db.Shutdown(context.WithoutCancel(ctx)) }()

			list, err := tasks.NewService(db.DB(), tasks.Postgres, logger).FetchCurrent(ctx, sessionID, filter).Unpack()
			if err != nil {
				return err
			}
			return printTasks(cmd, list)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "session whose tasks to list")
	cmd.Flags().StringVar(&status, "status", "", "only list tasks with this status")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}

func printTasks(cmd *cobra.Command, list []tasks.Task) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if list == nil {
		list = []tasks.Task{}
	}
	return enc.Encode(list)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
