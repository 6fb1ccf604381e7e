package azurequeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue/queueerror"
	"github.com/phrazzld/securotron/internal/config"
	"github.com/phrazzld/securotron/internal/redact"
	"github.com/phrazzld/securotron/internal/task"
)

const (
	// MaxMessages is the most messages a single dequeue call may return
	MaxMessages = 32

	// MaxVisibilityTimeout is the longest visibility timeout the service accepts
	MaxVisibilityTimeout = 7 * 24 * time.Hour
)

// ErrMissingCredentials is returned when neither a connection string nor an
// endpoint URI is configured
var ErrMissingCredentials = errors.New("queue connection string or endpoint uri is required")

// client is the subset of the queue SDK the adapter needs
type client interface {
	dequeue(ctx context.Context, max, visibilitySeconds int32) ([]*azqueue.DequeuedMessage, error)
	delete(ctx context.Context, id, popReceipt string) error
	enqueue(ctx context.Context, content string) error
}

// Queue receives, deletes and sends messages on one storage queue.
type Queue struct {
	client     client
	name       string
	visibility int32
	logger     *slog.Logger
}

// New builds a Queue from configuration. A connection string takes
// precedence; otherwise the endpoint URI is used with a chained credential
// trying the Azure CLI, Azure PowerShell and then managed identity.
func New(cfg config.QueueConfig, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		qc  *azqueue.QueueClient
		err error
	)
	switch {
	case cfg.ConnectionString != "":
		qc, err = azqueue.NewQueueClientFromConnectionString(cfg.ConnectionString, cfg.Name, nil)
	case cfg.EndpointURI != "":
		var cred azcore.TokenCredential
		cred, err = newCredential()
		if err != nil {
			return nil, fmt.Errorf("failed to create queue credential: %w", err)
		}
		qc, err = azqueue.NewQueueClient(cfg.EndpointURI, cred, nil)
	default:
		return nil, ErrMissingCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create queue client: %s", redact.Error(err))
	}

	return newQueue(sdkClient{qc: qc}, cfg.Name, cfg.VisibilityTimeout, logger), nil
}

func newQueue(c client, name string, visibility time.Duration, logger *slog.Logger) *Queue {
	return &Queue{
		client:     c,
		name:       name,
		visibility: visibilitySeconds(visibility),
		logger:     logger.With("component", "azurequeue", "queue", name),
	}
}

// visibilitySeconds rounds d up to whole seconds within 1s..MaxVisibilityTimeout.
// Zero or negative means the service default.
func visibilitySeconds(d time.Duration) int32 {
	switch {
	case d <= 0:
		return 0
	case d > MaxVisibilityTimeout:
		d = MaxVisibilityTimeout
	}
	return int32(math.Ceil(d.Seconds()))
}

func newCredential() (azcore.TokenCredential, error) {
	cli, err := azidentity.NewAzureCLICredential(nil)
	if err != nil {
		return nil, err
	}
	pwsh, err := azidentity.NewAzurePowerShellCredential(nil)
	if err != nil {
		return nil, err
	}
	managed, err := azidentity.NewManagedIdentityCredential(nil)
	if err != nil {
		return nil, err
	}
	return azidentity.NewChainedTokenCredential([]azcore.TokenCredential{cli, pwsh, managed}, nil)
}

// ReceiveMessages dequeues up to max messages, clamped to 1..MaxMessages.
// Received messages stay hidden from other receivers for the configured
// visibility timeout.
func (q *Queue) ReceiveMessages(ctx context.Context, max int) ([]task.Message, error) {
	switch {
	case max < 1:
		max = 1
	case max > MaxMessages:
		max = MaxMessages
	}

	dequeued, err := q.client.dequeue(ctx, int32(max), q.visibility)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue messages from %s: %w", q.name, err)
	}

	messages := make([]task.Message, 0, len(dequeued))
	for _, m := range dequeued {
		if m == nil {
			continue
		}
		msg := task.Message{
			ID:         deref(m.MessageID),
			PopReceipt: deref(m.PopReceipt),
			Body:       []byte(deref(m.MessageText)),
		}
		if m.DequeueCount != nil {
			msg.DequeueCount = *m.DequeueCount
		}
		if m.InsertionTime != nil {
			msg.InsertedAt = *m.InsertionTime
		}
		messages = append(messages, msg)
	}

	if len(messages) > 0 {
		q.logger.Debug("received messages", "count", len(messages))
	}
	return messages, nil
}

// DeleteMessage deletes one delivery. A missing message or stale pop receipt
// is reported as task.ErrMessageNotFound.
func (q *Queue) DeleteMessage(ctx context.Context, id, popReceipt string) error {
	err := q.client.delete(ctx, id, popReceipt)
	if err == nil {
		return nil
	}

	if queueerror.HasCode(err, queueerror.MessageNotFound, queueerror.PopReceiptMismatch) {
		return fmt.Errorf("%w: %s", task.ErrMessageNotFound, id)
	}
	return fmt.Errorf("failed to delete message %s: %w", id, err)
}

// SendMessage enqueues body as the message text.
func (q *Queue) SendMessage(ctx context.Context, body []byte) error {
	if err := q.client.enqueue(ctx, string(body)); err != nil {
		return fmt.Errorf("failed to enqueue message on %s: %w", q.name, err)
	}
	return nil
}

// sdkClient forwards to the queue SDK
type sdkClient struct {
	qc *azqueue.QueueClient
}

func (c sdkClient) dequeue(ctx context.Context, max, visibilitySeconds int32) ([]*azqueue.DequeuedMessage, error) {
	opts := &azqueue.DequeueMessagesOptions{
		NumberOfMessages: to.Ptr(max),
	}
	if visibilitySeconds > 0 {
		opts.VisibilityTimeout = to.Ptr(visibilitySeconds)
	}
	resp, err := c.qc.DequeueMessages(ctx, opts)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c sdkClient) delete(ctx context.Context, id, popReceipt string) error {
	_, err := c.qc.DeleteMessage(ctx, id, popReceipt, nil)
	return err
}

func (c sdkClient) enqueue(ctx context.Context, content string) error {
	_, err := c.qc.EnqueueMessage(ctx, content, nil)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
