package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/phrazzld/securotron/internal/config"
	"github.com/phrazzld/securotron/internal/platform/logger"
	"github.com/phrazzld/securotron/internal/platform/postgres"
	"github.com/phrazzld/securotron/internal/redact"
	"github.com/phrazzld/securotron/internal/task"
	"github.com/spf13/cobra"
)

// newRootCmd constructs the agent command tree.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "agent",
		Short:         "Disable directory accounts named on a message queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default: config.yaml in the working directory, if present)")

	root.AddCommand(
		newRunCmd(&configPath),
		newMigrateCmd(&configPath),
		newSendCmd(&configPath),
	)
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initialize(*configPath, config.LoadFrom)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := setupApplication(ctx, cfg, log)
			if err != nil {
				log.Error("failed to initialize agent", "error", redact.Error(err))
				return logged(err)
			}
			defer app.cleanup()

			if err := app.Run(ctx); err != nil {
				log.Error("agent stopped with error", "error", redact.Error(err))
				return logged(err)
			}
			return nil
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the postgres queue backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initialize(*configPath, config.LoadQueueFrom)
			if err != nil {
				return err
			}
			if cfg.Queue.Backend != config.QueueBackendPostgres {
				return fmt.Errorf("migrate requires the %s queue backend, configured backend is %s",
					config.QueueBackendPostgres, cfg.Queue.Backend)
			}

			db, err := postgres.Open(cmd.Context(), cfg.Database.URL, log)
			if err != nil {
				return fmt.Errorf("%s", redact.Error(err))
			}
			defer func() { _ = db.Close() }()

			return postgres.Migrate(cmd.Context(), db, log)
		},
	}
}

func newSendCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "send <username>",
		Short: "Put a disable request for username on the configured queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initialize(*configPath, config.LoadQueueFrom)
			if err != nil {
				return err
			}

			body, err := task.EncodeUsername(args[0], task.MessageEncoding(cfg.Queue.MessageEncoding))
			if err != nil {
				return err
			}

			sender, closeFn, err := openQueue(cmd.Context(), cfg, log)
			if err != nil {
				return fmt.Errorf("%s", redact.Error(err))
			}
			defer closeFn()

			if err := sender.SendMessage(cmd.Context(), body); err != nil {
				return err
			}

			log.Info("disable request sent", "username", args[0], "queue", cfg.Queue.Name)
			return nil
		},
	}
}

// initialize loads configuration with load and installs the logger.
// Commands that never reach the directory pass config.LoadQueueFrom.
func initialize(configPath string, load func(string) (*config.Config, error)) (*config.Config, *slog.Logger, error) {
	cfg, err := load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %s", redact.Error(err))
	}

	log, err := logger.Setup(cfg.Agent.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("configuration loaded",
		"queue_backend", cfg.Queue.Backend,
		"queue", cfg.Queue.Name,
		"directory_server", cfg.Directory.ServerFQDN,
		"log_level", cfg.Agent.LogLevel)

	return cfg, log, nil
}
