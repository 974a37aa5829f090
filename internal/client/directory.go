// ABOUTME: Directory listings: agents, teams and workflows
// ABOUTME: Satisfies target.Source for concurrent directory refresh

package client

import (
	"context"
	"net/http"

	"github.com/2389/coven-chat/internal/chat"
)

// ListAgents returns every agent the service exposes.
func (c *Client) ListAgents(ctx context.Context) ([]chat.Agent, error) {
	var out []chat.Agent
	if err := c.do(ctx, http.MethodGet, "/agents", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTeams returns every team the service exposes.
func (c *Client) ListTeams(ctx context.Context) ([]chat.Team, error) {
	var out []chat.Team
	if err := c.do(ctx, http.MethodGet, "/teams", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListWorkflows returns every workflow the service exposes.
func (c *Client) ListWorkflows(ctx context.Context) ([]chat.Workflow, error) {
	var out []chat.Workflow
	if err := c.do(ctx, http.MethodGet, "/workflows", &out); err != nil {
		return nil, err
	}
	return out, nil
}
