// ABOUTME: Directory of known agents, teams and workflows used for mention lookup
// ABOUTME: Refreshed concurrently from the remote service and swapped atomically

package target

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-chat/internal/chat"
)

// FallbackAgentName is the agent preferred as default when none is configured.
const FallbackAgentName = "ChatAgent"

// Directory is a snapshot of the reference data served by the remote service.
type Directory struct {
	Agents    []chat.Agent
	Teams     []chat.Team
	Workflows []chat.Workflow
}

// Lookup finds a target of kind by exact display name.
func (d Directory) Lookup(kind chat.TargetKind, name string) (chat.Target, bool) {
	switch kind {
	case chat.KindAgent:
		for _, a := range d.Agents {
			if a.Name == name {
				return chat.Target{Kind: kind, ID: a.ID, Name: a.Name}, true
			}
		}
	case chat.KindTeam:
		for _, t := range d.Teams {
			if t.Name == name {
				return chat.Target{Kind: kind, ID: t.ID, Name: t.Name}, true
			}
		}
	case chat.KindWorkflow:
		for _, w := range d.Workflows {
			if w.Name == name {
				return chat.Target{Kind: kind, ID: w.ID, Name: w.Name}, true
			}
		}
	}
	return chat.Target{}, false
}

// ByID finds a target of kind by identifier.
func (d Directory) ByID(kind chat.TargetKind, id string) (chat.Target, bool) {
	switch kind {
	case chat.KindAgent:
		for _, a := range d.Agents {
			if a.ID == id {
				return chat.Target{Kind: kind, ID: a.ID, Name: a.Name}, true
			}
		}
	case chat.KindTeam:
		for _, t := range d.Teams {
			if t.ID == id {
				return chat.Target{Kind: kind, ID: t.ID, Name: t.Name}, true
			}
		}
	case chat.KindWorkflow:
		for _, w := range d.Workflows {
			if w.ID == id {
				return chat.Target{Kind: kind, ID: w.ID, Name: w.Name}, true
			}
		}
	}
	return chat.Target{}, false
}

// Agent returns the directory entry for id, if known.
func (d Directory) Agent(id string) (chat.Agent, bool) {
	for _, a := range d.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return chat.Agent{}, false
}

// Default picks the default target: the configured one when it exists in the
// directory, otherwise the agent named ChatAgent, otherwise the first agent.
func (d Directory) Default(kind chat.TargetKind, id string) *chat.Target {
	if id != "" {
		if t, ok := d.ByID(kind, id); ok {
			return &t
		}
	}
	for _, a := range d.Agents {
		if a.Name == FallbackAgentName || a.ID == FallbackAgentName {
			return &chat.Target{Kind: chat.KindAgent, ID: a.ID, Name: a.Name}
		}
	}
	if len(d.Agents) > 0 {
		a := d.Agents[0]
		return &chat.Target{Kind: chat.KindAgent, ID: a.ID, Name: a.Name}
	}
	return nil
}

// Source serves the directory listings.
type Source interface {
	ListAgents(ctx context.Context) ([]chat.Agent, error)
	ListTeams(ctx context.Context) ([]chat.Team, error)
	ListWorkflows(ctx context.Context) ([]chat.Workflow, error)
}

// Fetch loads all three listings concurrently.
func Fetch(ctx context.Context, src Source) (Directory, error) {
	var d Directory
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		agents, err := src.ListAgents(ctx)
		if err != nil {
			return fmt.Errorf("list agents: %w", err)
		}
		d.Agents = agents
		return nil
	})
	g.Go(func() error {
		teams, err := src.ListTeams(ctx)
		if err != nil {
			return fmt.Errorf("list teams: %w", err)
		}
		d.Teams = teams
		return nil
	})
	g.Go(func() error {
		workflows, err := src.ListWorkflows(ctx)
		if err != nil {
			return fmt.Errorf("list workflows: %w", err)
		}
		d.Workflows = workflows
		return nil
	})
	if err := g.Wait(); err != nil {
		return Directory{}, err
	}
	return d, nil
}

// Registry holds the current directory for concurrent readers.
type Registry struct {
	mu  sync.RWMutex
	dir Directory
}

// NewRegistry creates a registry seeded with dir.
func NewRegistry(dir Directory) *Registry {
	return &Registry{dir: dir}
}

// Get returns the current directory.
func (r *Registry) Get() Directory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dir
}

// Set replaces the current directory.
func (r *Registry) Set(dir Directory) {
	r.mu.Lock()
	r.dir = dir
	r.mu.Unlock()
}

// Refresh fetches a new directory from src. On failure the current
// directory is kept.
func (r *Registry) Refresh(ctx context.Context, src Source) error {
	dir, err := Fetch(ctx, src)
	if err != nil {
		return err
	}
	r.Set(dir)
	return nil
}
