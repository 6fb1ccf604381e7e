package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/securotron/internal/task"
)

// DefaultVisibilityTimeout hides a received message from other receivers
const DefaultVisibilityTimeout = 30 * time.Second

const (
	receiveQuery = `
		UPDATE queue_messages m
		SET pop_receipt = gen_random_uuid(),
			dequeue_count = m.dequeue_count + 1,
			visible_at = NOW() + make_interval(secs => $3)
		FROM (
			SELECT id
			FROM queue_messages
			WHERE queue_name = $1 AND visible_at <= NOW()
			ORDER BY inserted_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) next
		WHERE m.id = next.id
		RETURNING m.id, m.pop_receipt, m.body, m.dequeue_count, m.inserted_at
	`

	deleteQuery = `
		DELETE FROM queue_messages
		WHERE id = $1 AND pop_receipt = $2 AND queue_name = $3
	`

	sendQuery = `
		INSERT INTO queue_messages (queue_name, body)
		VALUES ($1, $2)
	`
)

// MessageQueue implements task.MessageQueue and task.MessageSender on a
// PostgreSQL table.
type MessageQueue struct {
	db         DBTX
	name       string
	visibility time.Duration
	logger     *slog.Logger
}

// NewMessageQueue creates a queue named name. A non-positive visibility
// timeout uses DefaultVisibilityTimeout.
func NewMessageQueue(db DBTX, name string, visibility time.Duration, logger *slog.Logger) *MessageQueue {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MessageQueue{
		db:         db,
		name:       name,
		visibility: visibility,
		logger:     logger.With("component", "postgres_queue", "queue", name),
	}
}

// ReceiveMessages claims up to max visible messages, oldest first.
func (q *MessageQueue) ReceiveMessages(ctx context.Context, max int) ([]task.Message, error) {
	if max < 1 {
		max = 1
	}

	rows, err := q.db.QueryContext(ctx, receiveQuery, q.name, max, q.visibility.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var messages []task.Message
	for rows.Next() {
		var (
			id, receipt uuid.UUID
			msg         task.Message
		)
		if err := rows.Scan(&id, &receipt, &msg.Body, &msg.DequeueCount, &msg.InsertedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.ID = id.String()
		msg.PopReceipt = receipt.String()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", MapError(err))
	}

	// RETURNING does not preserve the subquery order
	slices.SortStableFunc(messages, func(a, b task.Message) int {
		return a.InsertedAt.Compare(b.InsertedAt)
	})

	if len(messages) > 0 {
		q.logger.Debug("received messages", "count", len(messages))
	}
	return messages, nil
}

// DeleteMessage removes the message if popReceipt is still current.
func (q *MessageQueue) DeleteMessage(ctx context.Context, id, popReceipt string) error {
	msgID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: invalid message id %q", task.ErrMessageNotFound, id)
	}
	receipt, err := uuid.Parse(popReceipt)
	if err != nil {
		return fmt.Errorf("%w: invalid pop receipt", task.ErrMessageNotFound)
	}

	result, err := q.db.ExecContext(ctx, deleteQuery, msgID, receipt, q.name)
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, MapError(err))
	}

	if err := CheckRowsAffected(result); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	return nil
}

// SendMessage appends body to the queue.
func (q *MessageQueue) SendMessage(ctx context.Context, body []byte) error {
	if _, err := q.db.ExecContext(ctx, sendQuery, q.name, body); err != nil {
		return fmt.Errorf("failed to send message: %w", MapError(err))
	}
	return nil
}
