// ABOUTME: Archive types and interface for saved chat sessions
// ABOUTME: Implemented by SQLiteStore and MockStore

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/coven-chat/internal/chat"
)

// ErrNotFound is returned when a requested session doesn't exist
var ErrNotFound = errors.New("not found")

// ErrEmptySessionID is returned when saving a session without an id
var ErrEmptySessionID = errors.New("session id required")

// DefaultListLimit caps ListSessions when no limit is given.
const DefaultListLimit = 50

// SessionSummary describes an archived session without its messages
type SessionSummary struct {
	ID           string
	Name         string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store defines the interface for the local session archive
type Store interface {
	// SaveSession writes sess, replacing any earlier copy with the same id.
	SaveSession(ctx context.Context, sess chat.ChatSession) error
	// GetSession loads a session with its messages in transcript order.
	GetSession(ctx context.Context, id string) (chat.ChatSession, error)
	// ListSessions returns summaries, most recently updated first.
	ListSessions(ctx context.Context, limit int) ([]SessionSummary, error)
	// DeleteSession removes a session and its messages.
	DeleteSession(ctx context.Context, id string) error

	// Close releases any resources held by the store
	Close() error
}

// archived prepares sess for storage. Preview handles belong to the running
// process and are never persisted; neither is the streaming flag.
func archived(sess chat.ChatSession) chat.ChatSession {
	out := sess
	out.Messages = make([]chat.Message, len(sess.Messages))
	for i, m := range sess.Messages {
		m = m.Clone()
		m.Streaming = false
		for j := range m.Attachments {
			m.Attachments[j].PreviewID = ""
		}
		for v := range m.Versions {
			for j := range m.Versions[v].Attachments {
				m.Versions[v].Attachments[j].PreviewID = ""
			}
		}
		out.Messages[i] = m
	}
	return out
}

// title names a session by its first user message when it has no name.
func title(sess chat.ChatSession) string {
	if sess.Name != "" {
		return sess.Name
	}
	for _, m := range sess.Messages {
		if m.Role == chat.RoleUser && m.Text != "" {
			r := []rune(m.Text)
			if len(r) > 60 {
				return string(r[:60]) + "…"
			}
			return m.Text
		}
	}
	return "Untitled"
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
