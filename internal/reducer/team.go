// ABOUTME: Reducer for team runs: splits one stream into leader, member and tool-call entries
// ABOUTME: Cursors for the open leader and member sub-messages are explicit reducer state

package reducer

import (
	"fmt"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/event"
)

// Team folds a team run. The placeholder is the first leader sub-message;
// member turns and tool calls become their own messages in arrival order.
type Team struct {
	root   string
	userID string
	team   chat.Team
	target chat.Target
	agents AgentDirectory

	runID  string
	leader string
	member string
	owned  []string
	done   bool
}

// NewTeam starts a reducer for placeholder. agents may be nil.
func NewTeam(placeholder chat.Message, agents AgentDirectory) Team {
	r := Team{
		root:   placeholder.ID,
		userID: placeholder.UserMessageID,
		agents: agents,
		leader: placeholder.ID,
		owned:  []string{placeholder.ID},
		target: chat.Target{Kind: chat.KindTeam},
	}
	if placeholder.Target != nil {
		r.target = *placeholder.Target
		r.team = chat.Team{ID: r.target.ID, Name: r.target.Name}
	}
	if placeholder.Team != nil {
		r.team = *placeholder.Team
	}
	return r
}

// RunID implements Reducer.
func (r Team) RunID() string { return r.runID }

// Done implements Reducer.
func (r Team) Done() bool { return r.done }

// Apply implements Reducer.
func (r Team) Apply(v View, ev event.Event) (Reducer, chat.Delta) {
	if r.done {
		return r, chat.Delta{}
	}
	e := newEdit(v)
	switch ev := ev.(type) {
	case event.TeamRunError:
		r = r.fail(e, ev.Error)

	case event.RunError:
		if ev.AgentID == "" || r.member == "" {
			r = r.fail(e, ev.Error)
			break
		}
		if m := e.get(r.member); m != nil {
			m.Error = ev.Error
			m.Streaming = false
		}
		r.member = ""

	case event.RunStarted:
		if ev.AgentID == "" {
			if ev.RunID != "" {
				r.runID = ev.RunID
			}
			return r, chat.Delta{}
		}
		e.stop(r.member)
		r.leader = ""
		m := r.newSub()
		m.Agent = r.memberAgent(ev.AgentID, ev.AgentName)
		r.member = e.add(m).ID
		r.owned = withID(r.owned, r.member)

	case event.RunContent:
		m := e.get(r.member)
		if m == nil {
			return r, chat.Delta{}
		}
		addContent(m, ev)

	case event.TeamRunContent:
		if r.leader == "" {
			e.stop(r.member)
			r.member = ""
			m := r.newSub()
			m.Team = r.teamRef()
			m.AppendText(ev.Content)
			r.leader = e.add(m).ID
			r.owned = withID(r.owned, r.leader)
			break
		}
		if m := e.get(r.leader); m != nil {
			m.AppendText(ev.Content)
		}
		if r.member != "" {
			e.stop(r.member)
			r.member = ""
		}

	case event.ToolCallStarted:
		if !ev.Team {
			// Member tool calls ride on the member's message.
			m := e.get(r.member)
			if m == nil {
				return r, chat.Delta{}
			}
			if toolCallIndex(m.ToolCalls, ev.Tool.ID) < 0 {
				m.ToolCalls = append(m.ToolCalls, newToolCall(ev.Tool))
			}
			break
		}
		e.stop(r.member)
		r.member = ""
		tc := newToolCall(ev.Tool)
		tc.DelegatedTo = r.delegate(ev.Tool.Args)
		m := r.newSub()
		m.Streaming = false
		m.Team = r.teamRef()
		m.ToolCall = &tc
		r.owned = withID(r.owned, e.add(m).ID)

	case event.ToolCallCompleted:
		if !ev.Team {
			m := e.get(r.member)
			if m == nil {
				return r, chat.Delta{}
			}
			finishToolCall(&m.ToolCalls, ev.Tool)
			break
		}
		for _, id := range r.owned {
			if m := e.get(id); m != nil && m.ToolCall != nil && m.ToolCall.ID == ev.Tool.ID {
				m.ToolCall.Finish(ev.Tool.Failed, ev.Tool.Output)
				break
			}
		}

	case event.RunCompleted:
		if ev.AgentID != "" {
			e.stop(r.member)
			r.member = ""
			break
		}
		r = r.complete(e)

	case event.TeamRunCompleted:
		r = r.complete(e)

	default:
		return r, chat.Delta{}
	}
	return r, e.delta()
}

// End implements Reducer.
func (r Team) End(v View) (Reducer, chat.Delta) {
	if r.done {
		return r, chat.Delta{}
	}
	e := newEdit(v)
	r = r.complete(e)
	return r, e.delta()
}

// Fail implements Reducer. The notice replaces an empty placeholder or is
// added as its own entry when the placeholder already holds output.
func (r Team) Fail(v View, _ error) (Reducer, chat.Delta) {
	if r.done {
		return r, chat.Delta{}
	}
	e := newEdit(v)
	r.stopAll(e)
	notice := FailureNotice(r.target)
	if root := e.get(r.root); root != nil && !root.HasContent() {
		root.SetText(notice)
	} else {
		m := chat.NewNotice(r.userID, notice)
		m.Team = r.teamRef()
		r.owned = withID(r.owned, e.add(m).ID)
	}
	r.done = true
	return r, e.delta()
}

// Cancel implements Reducer.
func (r Team) Cancel(v View) (Reducer, chat.Delta) {
	if r.done {
		return r, chat.Delta{}
	}
	e := newEdit(v)
	r.stopAll(e)
	r.done = true
	return r, e.delta()
}

// fail records a terminal team error as a dedicated entry.
func (r Team) fail(e *edit, msg string) Team {
	r.stopAll(e)
	m := r.newSub()
	m.Streaming = false
	m.Team = r.teamRef()
	m.Error = msg
	r.owned = withID(r.owned, e.add(m).ID)
	r.leader, r.member = "", ""
	r.done = true
	return r
}

// complete stops every owned message and settles running tool calls.
func (r Team) complete(e *edit) Team {
	for _, id := range r.owned {
		m := e.get(id)
		if m == nil {
			continue
		}
		m.Streaming = false
		if m.ToolCall != nil {
			m.ToolCall.Finish(false, "")
		}
	}
	r.leader, r.member = "", ""
	r.done = true
	return r
}

func (r Team) stopAll(e *edit) {
	for _, id := range r.owned {
		e.stop(id)
	}
}

func (r Team) newSub() chat.Message {
	return chat.NewBotMessage(r.userID)
}

// memberAgent resolves a delegated agent from the directory, falling back to
// the name carried by the event.
func (r Team) memberAgent(id, name string) *chat.Agent {
	if r.agents != nil {
		if a, ok := r.agents.Agent(id); ok {
			return &a
		}
	}
	if name == "" {
		name = id
	}
	return &chat.Agent{ID: id, Name: name}
}

// delegate names the agent a tool call hands work to.
func (r Team) delegate(args map[string]any) string {
	for _, key := range []string{"member_id", "agent_id"} {
		id := argString(args, key)
		if id == "" {
			continue
		}
		if r.agents != nil {
			if a, ok := r.agents.Agent(id); ok {
				return a.Name
			}
		}
		return id
	}
	return argString(args, "agent_name")
}

func argString(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (r Team) teamRef() *chat.Team {
	t := r.team
	return &t
}
