package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/phrazzld/securotron/internal/api"
	"github.com/phrazzld/securotron/internal/config"
	"github.com/phrazzld/securotron/internal/platform/activedirectory"
	"github.com/phrazzld/securotron/internal/platform/azurequeue"
	"github.com/phrazzld/securotron/internal/platform/postgres"
	"github.com/phrazzld/securotron/internal/task"
)

// messageQueue is what a queue backend provides to the agent
type messageQueue interface {
	task.MessageQueue
	task.MessageSender
}

// application holds the agent's collaborators and its task pipeline.
type application struct {
	config *config.Config
	logger *slog.Logger

	queue     task.MessageQueue
	directory task.Directory
	closers   []func()

	taskQueue *task.TaskQueue
	runner    *task.TaskRunner

	healthServer *http.Server
	healthAddr   net.Addr
}

// setupApplication connects to the queue backend and the directory and
// builds the pipeline.
func setupApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	queue, closeQueue, err := openQueue(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	directory, err := activedirectory.New(ctx, cfg.Directory, logger)
	if err != nil {
		closeQueue()
		return nil, fmt.Errorf("failed to connect to the directory: %w", err)
	}

	app := newApplication(cfg, logger, queue, directory)
	app.closers = append(app.closers, closeQueue, func() {
		if err := directory.Close(); err != nil {
			logger.Error("error closing directory connection", "error", err)
		}
	})
	return app, nil
}

// openQueue returns the configured queue backend and a function releasing it.
func openQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger) (messageQueue, func(), error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendPostgres:
		db, err := postgres.Open(ctx, cfg.Database.URL, logger)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				logger.Error("error closing database connection", "error", err)
			}
		}
		return postgres.NewMessageQueue(db, cfg.Queue.Name, cfg.Queue.VisibilityTimeout, logger), closeDB, nil
	default:
		queue, err := azurequeue.New(cfg.Queue, logger)
		if err != nil {
			return nil, nil, err
		}
		return queue, func() {}, nil
	}
}

// newApplication wires the poller and dispatcher around a bounded task queue.
func newApplication(
	cfg *config.Config,
	logger *slog.Logger,
	queue task.MessageQueue,
	directory task.Directory,
) *application {
	taskQueue := task.NewTaskQueue(cfg.Agent.QueueCapacity, logger)
	factory := task.NewDisableAccountTaskFactory(
		directory,
		queue,
		task.MessageEncoding(cfg.Queue.MessageEncoding),
		logger,
	)
	poller := task.NewPoller(queue, taskQueue, factory, task.PollerConfig{
		BatchSize: cfg.Agent.BatchSize,
		Interval:  cfg.Agent.PollInterval,
	}, logger)
	dispatcher := task.NewDispatcher(taskQueue, logger)

	return &application{
		config:    cfg,
		logger:    logger,
		queue:     queue,
		directory: directory,
		taskQueue: taskQueue,
		runner:    task.NewTaskRunner(poller, dispatcher, logger),
	}
}

// Run starts the task runner and the health server, then blocks until ctx
// is cancelled or the task loops exit, and shuts both down.
func (app *application) Run(ctx context.Context) error {
	if err := app.runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}
	defer func() {
		if err := app.runner.Release(); err != nil {
			app.logger.Error("failed to release task runner", "error", err)
		}
	}()

	if app.config.Agent.HealthAddr != "" {
		if err := app.startHealthServer(); err != nil {
			_ = app.shutdown()
			return err
		}
	}

	app.logger.Info("agent started",
		"queue_capacity", app.taskQueue.Cap(),
		"batch_size", app.config.Agent.BatchSize,
		"poll_interval", app.config.Agent.PollInterval.String())

	select {
	case <-ctx.Done():
		app.logger.Info("shutdown signal received")
	case <-app.runner.Done():
		app.logger.Warn("task loops exited before shutdown was requested")
	}

	return app.shutdown()
}

func (app *application) startHealthServer() error {
	ln, err := net.Listen("tcp", app.config.Agent.HealthAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.config.Agent.HealthAddr, err)
	}

	health := api.NewHealthHandler(app.runner, app.taskQueue, app.logger)
	app.healthServer = &http.Server{
		Handler:           api.NewRouter(health),
		ReadHeaderTimeout: 5 * time.Second,
	}
	app.healthAddr = ln.Addr()

	go func() {
		app.logger.Info("starting health server", "addr", ln.Addr().String())
		if err := app.healthServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("health server failed", "error", err)
		}
	}()
	return nil
}

// shutdown stops the health server and the task runner within the
// configured shutdown timeout.
func (app *application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Agent.ShutdownTimeout)
	defer cancel()

	var errs []error
	if app.healthServer != nil {
		if err := app.healthServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("health server shutdown failed: %w", err))
		}
	}

	if err := app.runner.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	app.logger.Info("agent shutdown completed")
	return nil
}

// cleanup releases the collaborators in reverse order of acquisition.
func (app *application) cleanup() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
}
