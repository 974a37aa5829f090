// ABOUTME: Remote session listing, lookup and deletion
// ABOUTME: Sessions are identified by the session_id sent with every run

package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// Session is a conversation the service remembers.
type Session struct {
	ID        string `json:"session_id"`
	Name      string `json:"session_name"`
	CreatedAt int64  `json:"created_at,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

var errEmptySessionID = errors.New("session id required")

// ListSessions returns the sessions known to the service.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := c.do(ctx, http.MethodGet, "/sessions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession fetches one session. It returns an error matching ErrNotFound
// when the service does not know id.
func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, errEmptySessionID
	}
	var out Session
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), &out); err != nil {
		return Session{}, err
	}
	return out, nil
}

// DeleteSession removes a session on the service.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	if id == "" {
		return errEmptySessionID
	}
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil)
}
