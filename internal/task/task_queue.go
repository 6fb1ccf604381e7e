package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultQueueCapacity is the number of tasks the queue holds before Enqueue blocks
const DefaultQueueCapacity = 100

// Common errors returned by the TaskQueue
var (
	ErrQueueCanceled = errors.New("task queue wait canceled")
	ErrNilTask       = errors.New("task cannot be nil")
)

// TaskQueue is a bounded FIFO of tasks that satisfies both TaskEnqueuer and
// TaskDequeuer. Enqueue blocks while the queue is full and Dequeue blocks while
// it is empty; both give up when their context is done.
//
// Items live in a ring buffer guarded by mu. Every change to the buffer closes
// the current notify channel and installs a fresh one, waking all waiters so
// they can re-check their condition.
type TaskQueue struct {
	mu     sync.Mutex
	buf    []Task
	head   int
	count  int
	notify chan struct{}
	logger *slog.Logger
}

// NewTaskQueue creates a new task queue holding at most capacity tasks
func NewTaskQueue(capacity int, logger *slog.Logger) *TaskQueue {
	if capacity <= 0 {
		logger.Warn("invalid queue capacity specified, using default",
			"specified_capacity", capacity,
			"default_capacity", DefaultQueueCapacity)
		capacity = DefaultQueueCapacity
	}

	return &TaskQueue{
		buf:    make([]Task, capacity),
		notify: make(chan struct{}),
		logger: logger.With("component", "task_queue"),
	}
}

// Enqueue adds a task to the tail of the queue.
// It blocks while the queue is full and returns an error wrapping both
// ErrQueueCanceled and the context error if ctx is done before the task
// could be inserted. A canceled ctx at call time never inserts.
func (q *TaskQueue) Enqueue(ctx context.Context, task Task) error {
	if task == nil {
		return ErrNilTask
	}

	for {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}

		q.mu.Lock()
		if q.count < len(q.buf) {
			q.buf[(q.head+q.count)%len(q.buf)] = task
			q.count++
			length := q.count
			q.broadcastLocked()
			q.mu.Unlock()

			q.logger.Debug("task enqueued",
				"task_id", task.ID(),
				"task_type", task.Type(),
				"queue_len", length,
				"queue_cap", len(q.buf))
			return nil
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return canceled(ctx.Err())
		case <-wait:
		}
	}
}

// Dequeue removes and returns the task at the head of the queue.
// It blocks while the queue is empty and returns an error wrapping
// ErrQueueCanceled, without a task, once ctx is done.
func (q *TaskQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, canceled(err)
		}

		q.mu.Lock()
		if q.count > 0 {
			task := q.buf[q.head]
			q.buf[q.head] = nil
			q.head = (q.head + 1) % len(q.buf)
			q.count--
			q.broadcastLocked()
			q.mu.Unlock()
			return task, nil
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, canceled(ctx.Err())
		case <-wait:
		}
	}
}

// Len returns the number of tasks currently waiting
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the maximum number of tasks the queue can hold
func (q *TaskQueue) Cap() int {
	return len(q.buf)
}

// broadcastLocked wakes every goroutine blocked in Enqueue or Dequeue.
// q.mu must be held.
func (q *TaskQueue) broadcastLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}

func canceled(err error) error {
	return fmt.Errorf("%w: %w", ErrQueueCanceled, err)
}
