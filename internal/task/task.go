package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Task type constants
const (
	// TaskTypeDisableAccount represents the task type for disabling a directory account
	// named by a queue message
	TaskTypeDisableAccount = "disable_account"
)

// ErrMessageNotFound is returned by a MessageDeleter when the message is gone
// or the pop receipt no longer matches the current delivery
var ErrMessageNotFound = errors.New("message not found or pop receipt mismatch")

// Task represents a unit of deferred work held by the in-process queue.
// A task is immutable once constructed and is executed at most once.
type Task interface {
	// ID returns the task's unique identifier
	ID() uuid.UUID

	// Type returns the task type identifier
	Type() string

	// Execute runs the task logic
	Execute(ctx context.Context) error
}

// TaskEnqueuer provides write access to the task queue
// allowing producers to hand off tasks for processing
type TaskEnqueuer interface {
	// Enqueue adds a task to the tail of the queue, blocking while the queue is full
	Enqueue(ctx context.Context, task Task) error
}

// TaskDequeuer provides read access to the task queue
// allowing the dispatcher to consume tasks without the ability to enqueue
type TaskDequeuer interface {
	// Dequeue removes the head of the queue, blocking while the queue is empty
	Dequeue(ctx context.Context) (Task, error)
}

// TaskFactory turns an external message into a Task
type TaskFactory interface {
	CreateTask(msg Message) (Task, error)
}

// Message is a single message received from the external queue.
type Message struct {
	// ID identifies the message within its queue
	ID string

	// PopReceipt proves receipt of this delivery and is required to delete it
	PopReceipt string

	// Body is the raw message payload
	Body []byte

	// DequeueCount is the number of times the message has been delivered, if known
	DequeueCount int64

	// InsertedAt is when the message was first put on the queue, if known
	InsertedAt time.Time
}

// MessageSource receives batches of messages from the external queue
type MessageSource interface {
	// ReceiveMessages returns up to max messages. An empty slice is not an error.
	ReceiveMessages(ctx context.Context, max int) ([]Message, error)
}

// MessageDeleter removes a processed message from the external queue
type MessageDeleter interface {
	// DeleteMessage deletes the delivery identified by id and popReceipt
	DeleteMessage(ctx context.Context, id, popReceipt string) error
}

// MessageQueue combines receive and delete access to the external queue
type MessageQueue interface {
	MessageSource
	MessageDeleter
}

// MessageSender puts a new message on the external queue
type MessageSender interface {
	SendMessage(ctx context.Context, body []byte) error
}

// Directory performs account mutations against the directory service.
// DisableUser must be idempotent: disabling an already disabled or missing
// account is not an error.
type Directory interface {
	DisableUser(ctx context.Context, username string) error
}

// Loop is a long-running component driven by the TaskRunner
type Loop interface {
	// Run blocks until ctx is cancelled. A nil return means a clean shutdown.
	Run(ctx context.Context) error
}
