package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Polling defaults
const (
	// DefaultBatchSize is the most messages requested per receive call
	DefaultBatchSize = 32

	// DefaultPollInterval is the pause between receive calls
	DefaultPollInterval = 3 * time.Second
)

// PollerConfig holds configuration options for the poller
type PollerConfig struct {
	// BatchSize is the maximum number of messages requested per receive.
	// If zero or negative, defaults to DefaultBatchSize.
	BatchSize int

	// Interval is the pause after every receive, whether or not messages arrived.
	// If zero or negative, defaults to DefaultPollInterval.
	Interval time.Duration
}

// DefaultPollerConfig returns a PollerConfig with the standard batch size and interval
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		BatchSize: DefaultBatchSize,
		Interval:  DefaultPollInterval,
	}
}

// Poller drains the external queue into the task queue.
//
// Polling runs at a fixed rate: after each receive the poller sleeps for the
// configured interval even when the batch was full or empty. This keeps idle
// load predictable at the cost of up to one interval of pickup latency; it is
// not an adaptive backoff.
//
// Enqueue blocks while the task queue is full, so a slow dispatcher delays the
// next receive and back-pressure reaches the external queue.
type Poller struct {
	source  MessageSource
	queue   TaskEnqueuer
	factory TaskFactory
	config  PollerConfig
	logger  *slog.Logger

	// failures counts consecutive iterations that ended in an error
	failures int
}

// NewPoller creates a poller that moves messages from source into queue
func NewPoller(
	source MessageSource,
	queue TaskEnqueuer,
	factory TaskFactory,
	config PollerConfig,
	logger *slog.Logger,
) *Poller {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Interval <= 0 {
		config.Interval = DefaultPollInterval
	}

	return &Poller{
		source:  source,
		queue:   queue,
		factory: factory,
		config:  config,
		logger:  logger.With("component", "poller"),
	}
}

// Run polls until ctx is cancelled and then returns nil.
//
// An error or panic inside one iteration is logged and the loop carries on
// after the usual interval, so message intake never stops while the agent
// is running.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("monitoring the queue for new messages",
		"batch_size", p.config.BatchSize,
		"interval", p.config.Interval)

	for ctx.Err() == nil {
		if err := p.poll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			p.failures++
			p.logger.Error("poll iteration failed",
				"error", err,
				"consecutive_failures", p.failures)
		} else {
			p.failures = 0
		}

		if !sleep(ctx, p.config.Interval) {
			break
		}
	}

	p.logger.Info("stopped monitoring the queue")
	return nil
}

// poll performs a single receive and enqueues one task per message, in order
func (p *Poller) poll(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during poll: %v\n%s", r, debug.Stack())
		}
	}()

	messages, err := p.source.ReceiveMessages(ctx, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	if len(messages) == 0 {
		return nil
	}

	p.logger.Info("received messages from the queue", "count", len(messages))

	for _, msg := range messages {
		task, err := p.factory.CreateTask(msg)
		if err != nil {
			// Left on the queue; it reappears once its visibility timeout lapses.
			p.logger.Error("failed to create task for message",
				"message_id", msg.ID,
				"error", err)
			continue
		}

		if err := p.queue.Enqueue(ctx, task); err != nil {
			if errors.Is(err, ErrQueueCanceled) {
				return err
			}
			p.logger.Error("failed to enqueue task",
				"message_id", msg.ID,
				"task_id", task.ID(),
				"error", err)
		}
	}

	return nil
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
