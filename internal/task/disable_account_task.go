package task

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// MessageEncoding describes how a queue message body carries the username
type MessageEncoding string

// Supported message encodings
const (
	// EncodingBase64 bodies hold the base64 encoding of the UTF-8 username
	EncodingBase64 MessageEncoding = "base64"
	// EncodingText bodies hold the username as plain UTF-8 text
	EncodingText MessageEncoding = "text"
)

// Common errors
var (
	ErrNilDirectory      = errors.New("directory cannot be nil")
	ErrNilMessageDeleter = errors.New("message deleter cannot be nil")
	ErrNilLogger         = errors.New("logger cannot be nil")
	ErrEmptyMessageID    = errors.New("message ID cannot be empty")
	ErrInvalidPayload    = errors.New("invalid message payload")
)

// DisableAccountTask disables the directory account named in a queue message
// and, once the directory reports success, deletes the message from the queue.
// A message whose task fails is left on the queue and becomes visible again
// for re-delivery.
type DisableAccountTask struct {
	id        uuid.UUID
	message   Message
	encoding  MessageEncoding
	directory Directory
	deleter   MessageDeleter
	logger    *slog.Logger
}

// NewDisableAccountTask creates a new task bound to msg
func NewDisableAccountTask(
	msg Message,
	encoding MessageEncoding,
	directory Directory,
	deleter MessageDeleter,
	logger *slog.Logger,
) (*DisableAccountTask, error) {
	if directory == nil {
		return nil, ErrNilDirectory
	}
	if deleter == nil {
		return nil, ErrNilMessageDeleter
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	if msg.ID == "" {
		return nil, ErrEmptyMessageID
	}
	if encoding == "" {
		encoding = EncodingBase64
	}

	id := uuid.New()
	return &DisableAccountTask{
		id:        id,
		message:   msg,
		encoding:  encoding,
		directory: directory,
		deleter:   deleter,
		logger: logger.With(
			"task_id", id,
			"task_type", TaskTypeDisableAccount,
			"message_id", msg.ID,
		),
	}, nil
}

// ID returns the task's unique identifier
func (t *DisableAccountTask) ID() uuid.UUID {
	return t.id
}

// Type returns the task type identifier
func (t *DisableAccountTask) Type() string {
	return TaskTypeDisableAccount
}

// Message returns the queue message the task was created for
func (t *DisableAccountTask) Message() Message {
	return t.message
}

// Execute decodes the username, disables the account and deletes the message.
// The message is only deleted when the directory call succeeds.
func (t *DisableAccountTask) Execute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("task cancelled by context: %w", err)
	}

	t.logger.Info("processing message", "dequeue_count", t.message.DequeueCount)

	username, err := DecodeUsername(t.message.Body, t.encoding)
	if err != nil {
		return err
	}

	if err := t.directory.DisableUser(ctx, username); err != nil {
		return fmt.Errorf("failed to disable user %q: %w", username, err)
	}

	if err := t.deleter.DeleteMessage(ctx, t.message.ID, t.message.PopReceipt); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	t.logger.Info("successfully processed message", "username", username)
	return nil
}

// DecodeUsername extracts the username from a message body.
// Surrounding whitespace is ignored and an empty username is rejected.
func DecodeUsername(body []byte, encoding MessageEncoding) (string, error) {
	raw := bytes.TrimSpace(body)

	switch encoding {
	case EncodingBase64, "":
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(raw)))
		n, err := base64.StdEncoding.Decode(decoded, raw)
		if err != nil {
			return "", fmt.Errorf("%w: body is not valid base64: %w", ErrInvalidPayload, err)
		}
		raw = bytes.TrimSpace(decoded[:n])
	case EncodingText:
	default:
		return "", fmt.Errorf("%w: unsupported encoding %q", ErrInvalidPayload, encoding)
	}

	if len(raw) == 0 {
		return "", fmt.Errorf("%w: empty username", ErrInvalidPayload)
	}
	return string(raw), nil
}

// EncodeUsername builds a message body that DecodeUsername maps back to username.
func EncodeUsername(username string, encoding MessageEncoding) ([]byte, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: empty username", ErrInvalidPayload)
	}

	switch encoding {
	case EncodingBase64, "":
		return []byte(base64.StdEncoding.EncodeToString([]byte(username))), nil
	case EncodingText:
		return []byte(username), nil
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %q", ErrInvalidPayload, encoding)
	}
}

// DisableAccountTaskFactory creates DisableAccountTask instances
type DisableAccountTaskFactory struct {
	directory Directory
	deleter   MessageDeleter
	encoding  MessageEncoding
	logger    *slog.Logger
}

// NewDisableAccountTaskFactory creates a new factory for DisableAccountTasks
func NewDisableAccountTaskFactory(
	directory Directory,
	deleter MessageDeleter,
	encoding MessageEncoding,
	logger *slog.Logger,
) *DisableAccountTaskFactory {
	return &DisableAccountTaskFactory{
		directory: directory,
		deleter:   deleter,
		encoding:  encoding,
		logger:    logger,
	}
}

// CreateTask creates a new DisableAccountTask for the specified message
func (f *DisableAccountTaskFactory) CreateTask(msg Message) (Task, error) {
	task, err := NewDisableAccountTask(msg, f.encoding, f.directory, f.deleter, f.logger)
	if err != nil {
		return nil, err
	}
	return task, nil
}
