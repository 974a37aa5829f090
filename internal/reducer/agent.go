// ABOUTME: Reducer for single-agent runs: one bot message per run
// ABOUTME: Handles content, inline images, agent tool calls and terminal states

package reducer

import (
	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/event"
)

// Agent folds a single agent's run into its placeholder message.
type Agent struct {
	msgID  string
	target chat.Target
	runID  string
	done   bool
}

// NewAgent starts a reducer for placeholder.
func NewAgent(placeholder chat.Message) Agent {
	r := Agent{msgID: placeholder.ID, target: chat.Target{Kind: chat.KindAgent}}
	if placeholder.Target != nil {
		r.target = *placeholder.Target
	}
	return r
}

// RunID implements Reducer.
func (r Agent) RunID() string { return r.runID }

// Done implements Reducer.
func (r Agent) Done() bool { return r.done }

// Apply implements Reducer.
func (r Agent) Apply(v View, ev event.Event) (Reducer, chat.Delta) {
	if r.done {
		return r, chat.Delta{}
	}
	e := newEdit(v)
	switch ev := ev.(type) {
	case event.RunStarted:
		if ev.RunID != "" {
			r.runID = ev.RunID
		}
		return r, chat.Delta{}

	case event.RunContent:
		if m := e.get(r.msgID); m != nil {
			addContent(m, ev)
		}

	case event.ToolCallStarted:
		m := e.get(r.msgID)
		if m == nil || ev.Team {
			return r, chat.Delta{}
		}
		if i := toolCallIndex(m.ToolCalls, ev.Tool.ID); i < 0 {
			m.ToolCalls = append(m.ToolCalls, newToolCall(ev.Tool))
		}

	case event.ToolCallCompleted:
		m := e.get(r.msgID)
		if m == nil || ev.Team {
			return r, chat.Delta{}
		}
		finishToolCall(&m.ToolCalls, ev.Tool)

	case event.RunCompleted:
		e.stop(r.msgID)
		r.done = true

	case event.RunError:
		if m := e.get(r.msgID); m != nil {
			m.Error = ev.Error
			m.Streaming = false
		}
		r.done = true

	default:
		return r, chat.Delta{}
	}
	return r, e.delta()
}

// End implements Reducer.
func (r Agent) End(v View) (Reducer, chat.Delta) {
	if r.done {
		return r, chat.Delta{}
	}
	e := newEdit(v)
	e.stop(r.msgID)
	r.done = true
	return r, e.delta()
}

// Fail implements Reducer. The message text is replaced by a failure notice.
func (r Agent) Fail(v View, _ error) (Reducer, chat.Delta) {
	if r.done {
		return r, chat.Delta{}
	}
	e := newEdit(v)
	if m := e.get(r.msgID); m != nil {
		m.SetText(FailureNotice(r.target))
		m.Streaming = false
	}
	r.done = true
	return r, e.delta()
}

// Cancel implements Reducer.
func (r Agent) Cancel(v View) (Reducer, chat.Delta) {
	return r.End(v)
}

func newToolCall(t event.Tool) chat.ToolCall {
	return chat.ToolCall{
		ID:       t.ID,
		ToolName: t.Name,
		Args:     t.Args,
		Status:   chat.StatusRunning,
	}
}

func toolCallIndex(calls []chat.ToolCall, id string) int {
	for i := range calls {
		if calls[i].ID == id {
			return i
		}
	}
	return -1
}

// finishToolCall completes the call matching t, recording a completed call
// when the start was never seen.
func finishToolCall(calls *[]chat.ToolCall, t event.Tool) {
	if i := toolCallIndex(*calls, t.ID); i >= 0 {
		(*calls)[i].Finish(t.Failed, t.Output)
		return
	}
	tc := newToolCall(t)
	tc.Finish(t.Failed, t.Output)
	*calls = append(*calls, tc)
}
