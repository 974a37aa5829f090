// ABOUTME: Closed set of run events decoded from event-stream frames
// ABOUTME: Unrecognised event names decode to Unknown instead of failing

package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/coven-chat/internal/sse"
)

// Wire event names.
const (
	NameRunStarted               = "RunStarted"
	NameRunContent               = "RunContent"
	NameRunCompleted             = "RunCompleted"
	NameRunError                 = "RunError"
	NameToolCallStarted          = "ToolCallStarted"
	NameToolCallCompleted        = "ToolCallCompleted"
	NameTeamRunStarted           = "TeamRunStarted"
	NameTeamRunContent           = "TeamRunContent"
	NameTeamToolCallStarted      = "TeamToolCallStarted"
	NameTeamToolCallCompleted    = "TeamToolCallCompleted"
	NameTeamRunError             = "TeamRunError"
	NameTeamRunCompleted         = "TeamRunCompleted"
	NameStepStarted              = "StepStarted"
	NameStepExecutorRunStarted   = "StepExecutorRunStarted"
	NameStepCompleted            = "StepCompleted"
	NameStepExecutorRunCompleted = "StepExecutorRunCompleted"
	NameWorkflowRunCompleted     = "WorkflowRunCompleted"
)

// ErrMalformed is returned by Decode when a frame payload is not a JSON
// object of the expected shape.
var ErrMalformed = errors.New("malformed event payload")

// Event is one decoded run event. The set of implementations is closed;
// reducers switch on the concrete type.
type Event interface {
	// Name returns the wire event name.
	Name() string
	isEvent()
}

// RunStarted opens a run. In team streams a non-empty AgentID marks a
// delegated member run.
type RunStarted struct {
	RunID     string
	AgentID   string
	AgentName string
	Team      bool
}

// RunContent is one content increment. Type "image" carries base64 data.
type RunContent struct {
	Content  string
	Type     string
	MimeType string
	Filename string
	StepName string
	AgentID  string
}

// IsImage reports whether the increment is an inline image.
func (e RunContent) IsImage() bool {
	return e.Type == "image"
}

// RunCompleted finishes a run, or a delegated member run when AgentID is set.
type RunCompleted struct {
	AgentID string
}

// RunError reports a failure of an agent or member run.
type RunError struct {
	Error   string
	AgentID string
}

// TeamRunContent is narration from the team leader.
type TeamRunContent struct {
	Content string
}

// Tool is the tool description carried by tool call events.
type Tool struct {
	ID     string
	Name   string
	Args   map[string]any
	Output string
	Failed bool
}

// ToolCallStarted announces a tool invocation. Team is set for the team
// variant of the event.
type ToolCallStarted struct {
	Tool Tool
	Team bool
}

// ToolCallCompleted reports the outcome of a tool invocation.
type ToolCallCompleted struct {
	Tool Tool
	Team bool
}

// TeamRunError is a terminal team failure.
type TeamRunError struct {
	Error string
}

// TeamRunCompleted finishes a team run.
type TeamRunCompleted struct{}

// StepStarted opens a workflow step. Executor is set for the executor
// variant of the event.
type StepStarted struct {
	StepName string
	Executor bool
}

// StepCompleted closes a workflow step.
type StepCompleted struct {
	StepName string
	Executor bool
}

// WorkflowRunCompleted finishes a workflow run.
type WorkflowRunCompleted struct{}

// Unknown is any event this client does not recognise. Reducers ignore it.
type Unknown struct {
	Event string
	Data  string
}

func (e RunStarted) Name() string {
	if e.Team {
		return NameTeamRunStarted
	}
	return NameRunStarted
}
func (RunContent) Name() string     { return NameRunContent }
func (RunCompleted) Name() string   { return NameRunCompleted }
func (RunError) Name() string       { return NameRunError }
func (TeamRunContent) Name() string { return NameTeamRunContent }
func (e ToolCallStarted) Name() string {
	if e.Team {
		return NameTeamToolCallStarted
	}
	return NameToolCallStarted
}
func (e ToolCallCompleted) Name() string {
	if e.Team {
		return NameTeamToolCallCompleted
	}
	return NameToolCallCompleted
}
func (TeamRunError) Name() string     { return NameTeamRunError }
func (TeamRunCompleted) Name() string { return NameTeamRunCompleted }
func (e StepStarted) Name() string {
	if e.Executor {
		return NameStepExecutorRunStarted
	}
	return NameStepStarted
}
func (e StepCompleted) Name() string {
	if e.Executor {
		return NameStepExecutorRunCompleted
	}
	return NameStepCompleted
}
func (WorkflowRunCompleted) Name() string { return NameWorkflowRunCompleted }
func (e Unknown) Name() string            { return e.Event }

func (RunStarted) isEvent()           {}
func (RunContent) isEvent()           {}
func (RunCompleted) isEvent()         {}
func (RunError) isEvent()             {}
func (TeamRunContent) isEvent()       {}
func (ToolCallStarted) isEvent()      {}
func (ToolCallCompleted) isEvent()    {}
func (TeamRunError) isEvent()         {}
func (TeamRunCompleted) isEvent()     {}
func (StepStarted) isEvent()          {}
func (StepCompleted) isEvent()        {}
func (WorkflowRunCompleted) isEvent() {}
func (Unknown) isEvent()              {}

// payload is the union of every field any recognised event carries.
type payload struct {
	RunID     string          `json:"run_id"`
	AgentID   string          `json:"agent_id"`
	AgentName string          `json:"agent_name"`
	Content   json.RawMessage `json:"content"`
	Type      string          `json:"type"`
	MimeType  string          `json:"mime_type"`
	Filename  string          `json:"filename"`
	StepName  string          `json:"step_name"`
	Name      string          `json:"name"`
	Error     json.RawMessage `json:"error"`
	Tool      *toolPayload    `json:"tool"`
}

type toolPayload struct {
	ID     string          `json:"tool_call_id"`
	Name   string          `json:"tool_name"`
	Args   map[string]any  `json:"tool_args"`
	Result json.RawMessage `json:"content"`
	Error  json.RawMessage `json:"tool_call_error"`
}

// Decode turns a frame into a typed event. Unrecognised names yield Unknown
// without inspecting the payload; recognised names with an invalid payload
// yield an error wrapping ErrMalformed.
func Decode(f sse.Frame) (Event, error) {
	switch f.Event {
	case NameRunStarted, NameTeamRunStarted, NameRunContent, NameRunCompleted, NameRunError,
		NameToolCallStarted, NameToolCallCompleted, NameTeamRunContent,
		NameTeamToolCallStarted, NameTeamToolCallCompleted, NameTeamRunError,
		NameTeamRunCompleted, NameStepStarted, NameStepExecutorRunStarted,
		NameStepCompleted, NameStepExecutorRunCompleted, NameWorkflowRunCompleted:
	default:
		return Unknown{Event: f.Event, Data: f.Data}, nil
	}

	var p payload
	if strings.TrimSpace(f.Data) != "" {
		if err := json.Unmarshal([]byte(f.Data), &p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, f.Event, err)
		}
	}

	switch f.Event {
	case NameRunStarted, NameTeamRunStarted:
		return RunStarted{RunID: p.RunID, AgentID: p.AgentID, AgentName: p.AgentName, Team: f.Event == NameTeamRunStarted}, nil
	case NameRunContent:
		return RunContent{
			Content:  text(p.Content),
			Type:     p.Type,
			MimeType: p.MimeType,
			Filename: p.Filename,
			StepName: p.StepName,
			AgentID:  p.AgentID,
		}, nil
	case NameRunCompleted:
		return RunCompleted{AgentID: p.AgentID}, nil
	case NameRunError:
		msg := text(p.Error)
		if msg == "" {
			msg = text(p.Content)
		}
		return RunError{Error: msg, AgentID: p.AgentID}, nil
	case NameTeamRunContent:
		return TeamRunContent{Content: text(p.Content)}, nil
	case NameToolCallStarted, NameTeamToolCallStarted:
		tool, err := decodeTool(f.Event, p.Tool)
		if err != nil {
			return nil, err
		}
		return ToolCallStarted{Tool: tool, Team: f.Event == NameTeamToolCallStarted}, nil
	case NameToolCallCompleted, NameTeamToolCallCompleted:
		tool, err := decodeTool(f.Event, p.Tool)
		if err != nil {
			return nil, err
		}
		return ToolCallCompleted{Tool: tool, Team: f.Event == NameTeamToolCallCompleted}, nil
	case NameTeamRunError:
		msg := text(p.Error)
		if msg == "" {
			msg = text(p.Content)
		}
		return TeamRunError{Error: msg}, nil
	case NameTeamRunCompleted:
		return TeamRunCompleted{}, nil
	case NameStepStarted, NameStepExecutorRunStarted:
		return StepStarted{StepName: stepName(p), Executor: f.Event == NameStepExecutorRunStarted}, nil
	case NameStepCompleted, NameStepExecutorRunCompleted:
		return StepCompleted{StepName: stepName(p), Executor: f.Event == NameStepExecutorRunCompleted}, nil
	default:
		return WorkflowRunCompleted{}, nil
	}
}

func decodeTool(name string, tp *toolPayload) (Tool, error) {
	if tp == nil {
		return Tool{}, fmt.Errorf("%w: %s: missing tool", ErrMalformed, name)
	}
	return Tool{
		ID:     tp.ID,
		Name:   tp.Name,
		Args:   tp.Args,
		Output: text(tp.Result),
		Failed: truthy(tp.Error),
	}, nil
}

func stepName(p payload) string {
	if p.StepName != "" {
		return p.StepName
	}
	return p.Name
}

// text renders a JSON value as display text: strings are unquoted, null is
// empty, anything else is kept as compact JSON.
func text(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// truthy accepts the boolean or string forms servers use for error flags.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0, bytes.Equal(raw, []byte("null")), bytes.Equal(raw, []byte("false")):
		return false
	case bytes.Equal(raw, []byte(`""`)):
		return false
	}
	return true
}
