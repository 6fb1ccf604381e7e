package mocks

import (
	"context"
	"sync"
)

// Directory is a mock implementation of task.Directory
type Directory struct {
	DisableUserFn func(ctx context.Context, username string) error

	mu    sync.Mutex
	calls []string
}

// DisableUser implements task.Directory
func (m *Directory) DisableUser(ctx context.Context, username string) error {
	m.mu.Lock()
	m.calls = append(m.calls, username)
	m.mu.Unlock()

	if m.DisableUserFn != nil {
		return m.DisableUserFn(ctx, username)
	}
	return nil
}

// Calls returns the usernames passed to DisableUser, in call order
func (m *Directory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]string, len(m.calls))
	copy(calls, m.calls)
	return calls
}
