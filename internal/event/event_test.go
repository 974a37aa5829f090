// ABOUTME: Tests for frame to event decoding
// ABOUTME: Covers each payload shape, the Unknown fallthrough and malformed payloads

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/sse"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		frame sse.Frame
		want  Event
	}{
		{
			name:  "run started",
			frame: sse.Frame{Event: "RunStarted", Data: `{"run_id":"r1"}`},
			want:  RunStarted{RunID: "r1"},
		},
		{
			name:  "member run started",
			frame: sse.Frame{Event: "RunStarted", Data: `{"run_id":"r2","agent_id":"a1","agent_name":"Scout"}`},
			want:  RunStarted{RunID: "r2", AgentID: "a1", AgentName: "Scout"},
		},
		{
			name:  "team run started",
			frame: sse.Frame{Event: "TeamRunStarted", Data: `{"run_id":"t1"}`},
			want:  RunStarted{RunID: "t1", Team: true},
		},
		{
			name:  "text content",
			frame: sse.Frame{Event: "RunContent", Data: `{"content":"hi","step_name":"fetch"}`},
			want:  RunContent{Content: "hi", StepName: "fetch"},
		},
		{
			name:  "image content",
			frame: sse.Frame{Event: "RunContent", Data: `{"type":"image","content":"aGk=","mime_type":"image/png"}`},
			want:  RunContent{Content: "aGk=", Type: "image", MimeType: "image/png"},
		},
		{
			name:  "structured content kept as json",
			frame: sse.Frame{Event: "RunContent", Data: `{"content":{"a": 1}}`},
			want:  RunContent{Content: `{"a":1}`},
		},
		{
			name:  "completed with empty payload",
			frame: sse.Frame{Event: "RunCompleted", Data: ""},
			want:  RunCompleted{},
		},
		{
			name:  "team content",
			frame: sse.Frame{Event: "TeamRunContent", Data: `{"content":"lead"}`},
			want:  TeamRunContent{Content: "lead"},
		},
		{
			name: "team tool call",
			frame: sse.Frame{Event: "TeamToolCallStarted",
				Data: `{"tool":{"tool_call_id":"c1","tool_name":"delegate","tool_args":{"member_id":"a1","task":"dig"}}}`},
			want: ToolCallStarted{Team: true, Tool: Tool{
				ID: "c1", Name: "delegate", Args: map[string]any{"member_id": "a1", "task": "dig"},
			}},
		},
		{
			name:  "failed tool call",
			frame: sse.Frame{Event: "ToolCallCompleted", Data: `{"tool":{"tool_call_id":"c1","content":"nope","tool_call_error":true}}`},
			want:  ToolCallCompleted{Tool: Tool{ID: "c1", Output: "nope", Failed: true}},
		},
		{
			name:  "team error",
			frame: sse.Frame{Event: "TeamRunError", Data: `{"error":"boom"}`},
			want:  TeamRunError{Error: "boom"},
		},
		{
			name:  "team error in content",
			frame: sse.Frame{Event: "TeamRunError", Data: `{"content":"boom"}`},
			want:  TeamRunError{Error: "boom"},
		},
		{
			name:  "step started by name",
			frame: sse.Frame{Event: "StepExecutorRunStarted", Data: `{"name":"write"}`},
			want:  StepStarted{StepName: "write", Executor: true},
		},
		{
			name:  "step completed prefers step_name",
			frame: sse.Frame{Event: "StepCompleted", Data: `{"step_name":"a","name":"b"}`},
			want:  StepCompleted{StepName: "a"},
		},
		{
			name:  "workflow completed",
			frame: sse.Frame{Event: "WorkflowRunCompleted", Data: `{}`},
			want:  WorkflowRunCompleted{},
		},
		{
			name:  "unknown event",
			frame: sse.Frame{Event: "ReasoningStep", Data: `not json`},
			want:  Unknown{Event: "ReasoningStep", Data: "not json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.frame)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.frame.Event, got.Name())
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(sse.Frame{Event: "RunContent", Data: `{"content":`})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode(sse.Frame{Event: "TeamToolCallStarted", Data: `{}`})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode(sse.Frame{Event: "RunStarted", Data: `[1,2]`})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecode_ToolErrorFlags(t *testing.T) {
	for data, failed := range map[string]bool{
		`{"tool":{"tool_call_id":"c"}}`:                          false,
		`{"tool":{"tool_call_id":"c","tool_call_error":false}}`:  false,
		`{"tool":{"tool_call_id":"c","tool_call_error":null}}`:   false,
		`{"tool":{"tool_call_id":"c","tool_call_error":"oops"}}`: true,
	} {
		ev, err := Decode(sse.Frame{Event: "TeamToolCallCompleted", Data: data})
		require.NoError(t, err)
		assert.Equal(t, failed, ev.(ToolCallCompleted).Tool.Failed, data)
	}
}
