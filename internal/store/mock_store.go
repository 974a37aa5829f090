// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/2389/coven-chat/internal/chat"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.ChatSession // keyed by session ID
	closed   bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]chat.ChatSession),
	}
}

// SaveSession stores a copy of sess.
func (m *MockStore) SaveSession(_ context.Context, sess chat.ChatSession) error {
	if sess.ID == "" {
		return ErrEmptySessionID
	}
	sess = archived(sess)
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}
	sess.Name = title(sess)

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.sessions[sess.ID]; ok {
		sess.CreatedAt = prev.CreatedAt
	}
	m.sessions[sess.ID] = sess
	return nil
}

// GetSession returns a copy of the stored session.
func (m *MockStore) GetSession(_ context.Context, id string) (chat.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return chat.ChatSession{}, ErrNotFound
	}
	return archived(sess), nil
}

// ListSessions returns summaries, most recently updated first.
func (m *MockStore) ListSessions(_ context.Context, limit int) ([]SessionSummary, error) {
	m.mu.RLock()
	out := make([]SessionSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, SessionSummary{
			ID:           s.ID,
			Name:         s.Name,
			MessageCount: len(s.Messages),
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    s.UpdatedAt,
		})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if n := normalizeLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// DeleteSession removes a stored session.
func (m *MockStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Store = (*MockStore)(nil)
