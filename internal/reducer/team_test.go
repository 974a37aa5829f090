// ABOUTME: Tests for the team reducer's sub-message demultiplexing
// ABOUTME: Covers member turns, leader narration, tool calls, errors and terminal states

package reducer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/event"
)

var research = chat.Target{Kind: chat.KindTeam, ID: "t1", Name: "Research"}

var teamAgents = agentsByID{
	"a": {ID: "a", Name: "Alice"},
	"b": {ID: "b", Name: "Bob"},
}

func TestTeam_MemberTurnsBecomeSeparateMessages(t *testing.T) {
	msgs := turn(research)
	r, out := Fold(NewTeam(msgs[1], teamAgents), msgs,
		event.RunStarted{RunID: "team-run", Team: true},
		event.RunStarted{RunID: "m1", AgentID: "a"},
		event.RunContent{Content: "hi"},
		event.RunStarted{RunID: "m2", AgentID: "b"},
		event.RunContent{Content: "there"},
		event.TeamRunCompleted{},
	)

	assert.True(t, r.Done())
	assert.Equal(t, "team-run", r.RunID())
	require.Len(t, out, 4)

	root, alice, bob := out[1], out[2], out[3]
	assert.Empty(t, root.Text, "unused placeholder stays as the team header")
	assert.Equal(t, "hi", alice.Text)
	assert.Equal(t, "Alice", alice.Agent.Name)
	assert.Equal(t, "there", bob.Text)
	assert.Equal(t, "Bob", bob.Agent.Name)
	for _, m := range out[1:] {
		assert.False(t, m.Streaming, m.ID)
		assert.Equal(t, out[0].ID, m.UserMessageID)
	}
	requireValid(t, out)
}

func TestTeam_LeaderNarration(t *testing.T) {
	msgs := turn(research)
	r, out := Fold(NewTeam(msgs[1], teamAgents), msgs,
		event.TeamRunContent{Content: "Let me ask "},
		event.TeamRunContent{Content: "Alice."},
		event.RunStarted{AgentID: "a"},
		event.RunContent{Content: "found it"},
		event.TeamRunContent{Content: "Summary"},
		event.RunContent{Content: "ignored"},
		event.TeamRunContent{Content: "!"},
	)

	require.Len(t, out, 4)
	assert.Equal(t, "Let me ask Alice.", out[1].Text, "first narration seeds the placeholder")
	assert.Equal(t, "found it", out[2].Text)
	assert.False(t, out[2].Streaming, "leader narration closes the member turn")
	assert.Equal(t, "Summary!", out[3].Text)
	assert.Equal(t, "Research", out[3].Team.Name)
	assert.True(t, out[3].Streaming)
	assert.False(t, r.Done())
}

func TestTeam_ToolCallAnnouncements(t *testing.T) {
	msgs := turn(research)
	r, out := Fold(NewTeam(msgs[1], teamAgents), msgs,
		event.RunStarted{AgentID: "a"},
		event.RunContent{Content: "working"},
		event.ToolCallStarted{Team: true, Tool: event.Tool{
			ID: "c1", Name: "delegate_task_to_member", Args: map[string]any{"member_id": "b", "task": "dig"},
		}},
		event.ToolCallStarted{Team: true, Tool: event.Tool{
			ID: "c2", Name: "delegate_task_to_member", Args: map[string]any{"member_id": "zed"},
		}},
		event.ToolCallStarted{Team: true, Tool: event.Tool{
			ID: "c3", Name: "transfer", Args: map[string]any{"agent_name": "Carol"},
		}},
		event.ToolCallCompleted{Team: true, Tool: event.Tool{ID: "c2", Output: "no such member", Failed: true}},
	)

	require.Len(t, out, 6)
	assert.False(t, out[2].Streaming, "tool call stops the open member turn")

	c1, c2, c3 := out[3].ToolCall, out[4].ToolCall, out[5].ToolCall
	require.NotNil(t, c1)
	assert.Equal(t, "Bob", c1.DelegatedTo)
	assert.Equal(t, "dig", c1.Task())
	assert.Equal(t, chat.StatusRunning, c1.Status)
	assert.Equal(t, "zed", c2.DelegatedTo, "unknown ids fall back to the raw id")
	assert.Equal(t, chat.StatusFailed, c2.Status)
	assert.Equal(t, "no such member", c2.Output)
	assert.Equal(t, "Carol", c3.DelegatedTo)

	_, out = Fold(r, out, event.RunCompleted{})
	assert.Equal(t, chat.StatusCompleted, out[3].ToolCall.Status, "completion settles running calls")
	assert.Equal(t, chat.StatusFailed, out[4].ToolCall.Status)
	requireValid(t, out)
}

func TestTeam_MemberToolCallsStayOnMember(t *testing.T) {
	msgs := turn(research)
	_, out := Fold(NewTeam(msgs[1], teamAgents), msgs,
		event.RunStarted{AgentID: "a"},
		event.ToolCallStarted{Tool: event.Tool{ID: "x", Name: "search"}},
		event.ToolCallCompleted{Tool: event.Tool{ID: "x", Output: "ok"}},
	)

	require.Len(t, out, 3)
	require.Len(t, out[2].ToolCalls, 1)
	assert.Equal(t, chat.StatusCompleted, out[2].ToolCalls[0].Status)
}

func TestTeam_RunErrorIsTerminal(t *testing.T) {
	msgs := turn(research)
	r, out := Fold(NewTeam(msgs[1], teamAgents), msgs,
		event.TeamRunContent{Content: "thinking"},
		event.RunStarted{AgentID: "a"},
		event.RunContent{Content: "partial"},
		event.TeamRunError{Error: "boom"},
		event.TeamRunContent{Content: "after"},
		event.RunStarted{AgentID: "b"},
	)

	assert.True(t, r.Done())
	var errored []chat.Message
	for _, m := range out[1:] {
		assert.False(t, m.Streaming, m.ID)
		if m.Error != "" {
			errored = append(errored, m)
		}
	}
	require.Len(t, errored, 1)
	assert.Equal(t, "boom", errored[0].Error)
	assert.Equal(t, "thinking", out[1].Text)
	assert.Equal(t, "partial", out[2].Text)
	assert.Len(t, out, 4)
	requireValid(t, out)
}

func TestTeam_MemberRunError(t *testing.T) {
	msgs := turn(research)
	r, out := Fold(NewTeam(msgs[1], teamAgents), msgs,
		event.RunStarted{AgentID: "a"},
		event.RunError{AgentID: "a", Error: "quota"},
		event.TeamRunContent{Content: "recovering"},
	)

	assert.False(t, r.Done())
	assert.Equal(t, "quota", out[2].Error)
	assert.False(t, out[2].Streaming)
	assert.Equal(t, "recovering", out[3].Text)
}

func TestTeam_MemberCompletionClosesOnlyMember(t *testing.T) {
	msgs := turn(research)
	r, out := Fold(NewTeam(msgs[1], teamAgents), msgs,
		event.RunStarted{AgentID: "a"},
		event.RunContent{Content: "done"},
		event.RunCompleted{AgentID: "a"},
		event.RunContent{Content: "stray"},
	)

	assert.False(t, r.Done())
	assert.False(t, out[2].Streaming)
	assert.Equal(t, "done", out[2].Text)
	assert.True(t, out[1].Streaming)
}

func TestTeam_FailureNotice(t *testing.T) {
	msgs := turn(research)
	r := Reducer(NewTeam(msgs[1], teamAgents))
	r, out := step(msgs, func(v View) (Reducer, chat.Delta) { return r.Fail(v, errBroken) })

	assert.Equal(t, "Sorry, an error occurred with team Research.", out[1].Text)
	assert.False(t, out[1].Streaming)

	// With narration already in the placeholder the notice gets its own entry.
	msgs = turn(research)
	r, out = Fold(NewTeam(msgs[1], teamAgents), msgs, event.TeamRunContent{Content: "so far"})
	_, out = step(out, func(v View) (Reducer, chat.Delta) { return r.Fail(v, errBroken) })
	require.Len(t, out, 3)
	assert.Equal(t, "so far", out[1].Text)
	assert.Equal(t, "Sorry, an error occurred with team Research.", out[2].Text)
	requireValid(t, out)
}

func TestTeam_CancelStopsOwnedMessagesOnly(t *testing.T) {
	msgs := turn(research)
	other := chat.NewBotMessage(msgs[0].ID)
	msgs = append(msgs, other)

	r, out := Fold(NewTeam(msgs[1], teamAgents), msgs,
		event.RunStarted{AgentID: "a"},
		event.RunContent{Content: "half"},
	)
	_, out = step(out, r.Cancel)

	require.Len(t, out, 4)
	assert.False(t, out[1].Streaming)
	assert.False(t, out[3].Streaming)
	assert.Equal(t, "half", out[3].Text)
	assert.True(t, out[2].Streaming, "a sibling target's message is not touched")
	for _, m := range out {
		assert.NotContains(t, m.Text, "Sorry")
	}
}

func TestTeam_CompletionStopsOwnedMessagesOnly(t *testing.T) {
	msgs := turn(research)
	other := chat.NewBotMessage(msgs[0].ID)
	msgs = append(msgs, other)

	r, out := Fold(NewTeam(msgs[1], teamAgents), msgs,
		event.RunStarted{AgentID: "a"},
		event.RunContent{Content: "done"},
		event.TeamRunCompleted{},
	)

	assert.True(t, r.Done())
	require.Len(t, out, 4)
	assert.False(t, out[1].Streaming)
	assert.False(t, out[3].Streaming)
	assert.True(t, out[2].Streaming, "a sibling target's message keeps streaming")
}

func TestTeam_SubMessagesFollowTurn(t *testing.T) {
	first := turn(research)
	next := chat.NewUserMessage("next", nil)
	msgs := append(first, next)

	_, out := Fold(NewTeam(first[1], teamAgents), msgs,
		event.RunStarted{AgentID: "a"},
		event.RunContent{Content: "late reply"},
	)

	require.Len(t, out, 4)
	assert.Equal(t, "late reply", out[2].Text)
	assert.Equal(t, next.ID, out[3].ID, "sub-messages stay inside their turn")
}
