package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RunnerState is a TaskRunner lifecycle state
type RunnerState int

// Lifecycle states, in the only order they are entered
const (
	StateCreated RunnerState = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

// String returns the lowercase state name
func (s RunnerState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Common errors returned by the TaskRunner
var (
	ErrAlreadyStarted  = errors.New("task runner already started")
	ErrAlreadyReleased = errors.New("task runner already released")
	ErrStopTimeout     = errors.New("task runner stop timed out")
)

// TaskRunner owns the lifecycle of the poller and the dispatcher.
// Both loops share one lifecycle context, cancelled once on Stop.
type TaskRunner struct {
	poller     Loop
	dispatcher Loop
	logger     *slog.Logger

	mu       sync.Mutex
	state    RunnerState
	cancel   context.CancelFunc
	done     chan struct{}
	runErr   error
	stopped  bool // Stop has been called
	released bool
}

// NewTaskRunner creates a TaskRunner in the Created state
func NewTaskRunner(poller, dispatcher Loop, logger *slog.Logger) *TaskRunner {
	return &TaskRunner{
		poller:     poller,
		dispatcher: dispatcher,
		logger:     logger.With("component", "task_runner"),
		state:      StateCreated,
	}
}

// State returns the current lifecycle state
func (r *TaskRunner) State() RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start derives the lifecycle context from ctx and launches the poller and
// the dispatcher. It returns without waiting for either loop.
func (r *TaskRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return ErrAlreadyReleased
	}
	if r.state != StateCreated {
		return fmt.Errorf("%w: state is %s", ErrAlreadyStarted, r.state)
	}
	r.state = StateStarting
	r.logger.Info("task runner is starting")

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	var g errgroup.Group
	g.Go(func() error { return r.runLoop(runCtx, "dispatcher", r.dispatcher) })
	g.Go(func() error { return r.runLoop(runCtx, "poller", r.poller) })

	go func() {
		err := g.Wait()
		r.mu.Lock()
		r.runErr = err
		// Loops also end when the host context is cancelled before Stop.
		if r.state == StateRunning {
			r.state = StateStopping
			r.logger.Warn("task runner loops exited before stop was requested")
		}
		r.mu.Unlock()
		close(r.done)
	}()

	r.state = StateRunning
	return nil
}

// runLoop runs a single loop, converting a panic into an error so one loop
// can never take the process down
func (r *TaskRunner) runLoop(ctx context.Context, name string, loop Loop) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s panic: %v", name, rec)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("loop exited with error", "loop", name, "error", err)
		}
	}()

	return loop.Run(ctx)
}

// Stop cancels the lifecycle context and waits for both loops to return,
// bounded by ctx. Calling Stop again, or before Start, is a no-op.
// Errors from the loops are logged, not returned; only a missed deadline
// is reported, wrapped in ErrStopTimeout.
func (r *TaskRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped || (r.state != StateRunning && r.state != StateStopping) {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.state = StateStopping
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	r.logger.Info("task runner is stopping")
	cancel()

	var stopErr error
	select {
	case <-done:
		r.mu.Lock()
		runErr := r.runErr
		r.mu.Unlock()
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			r.logger.Warn("loop failed during shutdown", "error", runErr)
		}
		r.logger.Info("task runner stopped gracefully")
	case <-ctx.Done():
		r.logger.Warn("task runner shutdown timed out, abandoning running loops")
		stopErr = fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err())
	}

	r.mu.Lock()
	r.state = StateStopped
	r.mu.Unlock()
	return stopErr
}

// Release frees the lifecycle context. It must be called exactly once;
// a second call returns ErrAlreadyReleased.
func (r *TaskRunner) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return ErrAlreadyReleased
	}
	r.released = true

	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// Done returns a channel closed once both loops have returned.
// It is nil before Start.
func (r *TaskRunner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}
