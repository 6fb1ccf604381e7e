package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/securotron/internal/task"
)

// DeleteCall records a single DeleteMessage invocation
type DeleteCall struct {
	ID         string
	PopReceipt string
}

// MessageQueue is a mock implementation of task.MessageQueue.
// Calls are recorded and safe for concurrent use.
type MessageQueue struct {
	ReceiveMessagesFn func(ctx context.Context, max int) ([]task.Message, error)
	DeleteMessageFn   func(ctx context.Context, id, popReceipt string) error

	mu           sync.Mutex
	receiveCalls int
	deleteCalls  []DeleteCall
}

// ReceiveMessages implements task.MessageSource
func (m *MessageQueue) ReceiveMessages(ctx context.Context, max int) ([]task.Message, error) {
	m.mu.Lock()
	m.receiveCalls++
	m.mu.Unlock()

	if m.ReceiveMessagesFn != nil {
		return m.ReceiveMessagesFn(ctx, max)
	}
	return nil, nil
}

// DeleteMessage implements task.MessageDeleter
func (m *MessageQueue) DeleteMessage(ctx context.Context, id, popReceipt string) error {
	m.mu.Lock()
	m.deleteCalls = append(m.deleteCalls, DeleteCall{ID: id, PopReceipt: popReceipt})
	m.mu.Unlock()

	if m.DeleteMessageFn != nil {
		return m.DeleteMessageFn(ctx, id, popReceipt)
	}
	return nil
}

// ReceiveCalls returns how many times ReceiveMessages was called
func (m *MessageQueue) ReceiveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receiveCalls
}

// DeleteCalls returns a copy of the recorded DeleteMessage calls, in call order
func (m *MessageQueue) DeleteCalls() []DeleteCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]DeleteCall, len(m.deleteCalls))
	copy(calls, m.deleteCalls)
	return calls
}
