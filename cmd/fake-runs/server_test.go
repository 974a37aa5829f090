// ABOUTME: End-to-end tests: the dispatch pipeline against the fake execution service
// ABOUTME: Exercises directory, agent/team/workflow streams, cancellation and sessions

package main

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/client"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/dispatch"
	"github.com/2389/coven-chat/internal/target"
	"github.com/2389/coven-chat/internal/transport"
)

type harness struct {
	client *client.Client
	store  *conversation.Store
	ctrl   *dispatch.Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := httptest.NewServer(newServer(0, nil).routes())
	t.Cleanup(srv.Close)

	api := client.New(srv.URL, srv.Client(), nil)
	dir := target.NewRegistry(target.Directory{})
	require.NoError(t, dir.Refresh(t.Context(), api))

	store := conversation.NewStore(nil, nil)
	dialer := transport.NewDialer(srv.URL, "tester", srv.Client(), nil)
	ctrl := dispatch.New(store, dir, dialer, dispatch.Options{Canceller: api})
	t.Cleanup(func() {
		ctrl.Close(context.Background())
		store.Close()
	})
	return &harness{client: api, store: store, ctrl: ctrl}
}

func (h *harness) send(t *testing.T, text string) []chat.Message {
	t.Helper()
	res, err := h.ctrl.Send(t.Context(), dispatch.SendRequest{Text: text})
	require.NoError(t, err)
	h.ctrl.Wait()
	return h.store.Turn(res.UserMessage.ID)
}

func TestDirectory(t *testing.T) {
	h := newHarness(t)

	dir, err := target.Fetch(t.Context(), h.client)
	require.NoError(t, err)
	assert.Len(t, dir.Agents, 3)
	assert.Len(t, dir.Teams, 1)
	assert.Len(t, dir.Workflows, 1)

	def := dir.Default(chat.KindAgent, "")
	require.NotNil(t, def)
	assert.Equal(t, "chat-agent", def.ID, "ChatAgent is the fallback default")
}

func TestAgentRun(t *testing.T) {
	h := newHarness(t)

	turn := h.send(t, "@[Researcher] please search the web")

	require.Len(t, turn, 1)
	m := turn[0]
	assert.Equal(t, "Researcher heard: please search the web", m.Text)
	assert.False(t, m.Streaming)
	require.Len(t, m.ToolCalls, 1)
	assert.Equal(t, "web_search", m.ToolCalls[0].ToolName)
	assert.Equal(t, chat.StatusCompleted, m.ToolCalls[0].Status)
}

func TestDefaultAgentRun(t *testing.T) {
	h := newHarness(t)

	turn := h.send(t, "hello")

	require.Len(t, turn, 1)
	assert.Equal(t, "ChatAgent heard: hello", turn[0].Text)
}

func TestTeamRun(t *testing.T) {
	h := newHarness(t)

	turn := h.send(t, "/[Research] tide tables")

	var member, delegation *chat.Message
	var leaderText string
	for i := range turn {
		m := &turn[i]
		assert.False(t, m.Streaming, "message %d still streaming", i)
		switch {
		case m.ToolCall != nil:
			delegation = m
		case m.Agent != nil:
			member = m
		case m.Team != nil:
			leaderText += m.Text
		}
	}
	require.NotNil(t, member)
	assert.Equal(t, "Researcher", member.Agent.Name)
	assert.Equal(t, "Findings on: tide tables", member.Text)

	require.NotNil(t, delegation)
	assert.Equal(t, "Researcher", delegation.ToolCall.DelegatedTo)
	assert.Equal(t, chat.StatusCompleted, delegation.ToolCall.Status)

	assert.Contains(t, leaderText, "Let me ask our researcher.")
	assert.Contains(t, leaderText, "Summary:")
}

func TestWorkflowRun(t *testing.T) {
	h := newHarness(t)

	turn := h.send(t, "![Digest] today")

	require.Len(t, turn, 1)
	run := turn[0].WorkflowRun
	require.NotNil(t, run)
	assert.Equal(t, chat.StatusCompleted, run.Status)
	require.Len(t, run.Steps, 2)
	assert.Equal(t, "collected 3 items", run.Steps[0].Content)
	assert.Equal(t, chat.StatusCompleted, run.Steps[1].Status)
	assert.Equal(t, "Digest for: today", turn[0].Text)
}

func TestMixedMentions(t *testing.T) {
	h := newHarness(t)

	turn := h.send(t, "@[Writer] @[Nobody] ![Digest] go")

	var texts []string
	for _, m := range turn {
		texts = append(texts, m.Text)
	}
	assert.Contains(t, texts, "Writer heard: go")
	assert.Contains(t, texts, "Digest for: go")
	assert.Contains(t, texts, `Error: Agent "Nobody" not found.`)
}

func TestCancelUnknownRun(t *testing.T) {
	h := newHarness(t)

	err := h.client.CancelRun(t.Context(), chat.Target{Kind: chat.KindAgent, ID: "chat-agent"}, "no-such-run")

	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestSessions(t *testing.T) {
	h := newHarness(t)
	h.send(t, "remember me")
	id := h.store.SessionID()

	sessions, err := h.client.ListSessions(t.Context())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, "remember me", sessions[0].Name)

	got, err := h.client.GetSession(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	require.NoError(t, h.client.DeleteSession(t.Context(), id))
	_, err = h.client.GetSession(t.Context(), id)
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestUnknownTargetIs404(t *testing.T) {
	h := newHarness(t)
	// A directory entry the service does not actually serve.
	dir := target.NewRegistry(target.Directory{Agents: []chat.Agent{{ID: "ghost", Name: "Ghost"}}})
	store := conversation.NewStore(nil, nil)
	t.Cleanup(store.Close)
	ctrl := dispatch.New(store, dir, transport.NewDialer(h.client.BaseURL(), "", nil, nil), dispatch.Options{})

	res, err := ctrl.Send(t.Context(), dispatch.SendRequest{Text: "@[Ghost] boo"})
	require.NoError(t, err)
	ctrl.Wait()

	turn := store.Turn(res.UserMessage.ID)
	require.Len(t, turn, 1)
	assert.Equal(t, "Sorry, an error occurred with agent Ghost.", turn[0].Text)
}
