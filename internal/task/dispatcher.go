package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Dispatcher executes tasks from the task queue one at a time.
// A failing or panicking task is reported to the error handler and never
// stops the loop or affects the tasks behind it.
type Dispatcher struct {
	queue  TaskDequeuer
	logger *slog.Logger

	// errorHandler is called when a task execution fails
	errorHandler func(task Task, err error)
}

// NewDispatcher creates a dispatcher consuming from queue
func NewDispatcher(queue TaskDequeuer, logger *slog.Logger) *Dispatcher {
	logger = logger.With("component", "dispatcher")

	return &Dispatcher{
		queue:  queue,
		logger: logger,
		errorHandler: func(task Task, err error) {
			// Default error handler just logs the error
			logger.Error("error occurred executing task",
				"task_id", task.ID(),
				"task_type", task.Type(),
				"error", err)
		},
	}
}

// SetErrorHandler allows setting a custom error handler for task execution failures
func (d *Dispatcher) SetErrorHandler(handler func(task Task, err error)) {
	d.errorHandler = handler
}

// Run dequeues and executes tasks until ctx is cancelled, then returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher starting")

	for {
		task, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				d.logger.Info("dispatcher stopped")
				return nil
			}
			// Only cancellation is expected here; anything else is a broken queue.
			return fmt.Errorf("failed to dequeue task: %w", err)
		}

		d.processTask(ctx, task)
	}
}

// processTask handles execution of a single task
func (d *Dispatcher) processTask(ctx context.Context, task Task) {
	logger := d.logger.With(
		"task_id", task.ID(),
		"task_type", task.Type(),
	)

	logger.Debug("executing task")

	err := execute(ctx, task)
	switch {
	case err == nil:
		logger.Debug("task completed successfully")
	case errors.Is(err, context.Canceled):
		// Shutdown is already in progress.
		logger.Debug("task cancelled", "error", err)
	default:
		d.errorHandler(task, err)
	}
}

// execute runs task, converting a panic into an error
func execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v\n%s", r, debug.Stack())
		}
	}()

	return task.Execute(ctx)
}
