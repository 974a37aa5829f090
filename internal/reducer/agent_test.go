// ABOUTME: Tests for the single-agent reducer
// ABOUTME: Covers text, images, tool calls, completion, failure and cancellation

package reducer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/event"
)

var scout = chat.Target{Kind: chat.KindAgent, ID: "a1", Name: "Scout"}

func TestAgent_StreamsTextToCompletion(t *testing.T) {
	msgs := turn(scout)
	r, out := Fold(NewAgent(msgs[1]), msgs,
		event.RunStarted{RunID: "run-1"},
		event.RunContent{Content: "Hel"},
		event.RunContent{Content: "lo"},
	)
	assert.Equal(t, "run-1", r.RunID())
	assert.True(t, out[1].Streaming)
	assert.Equal(t, "Hello", out[1].Text)

	r, out = Fold(r, out, event.RunCompleted{}, event.RunContent{Content: "late"})
	assert.True(t, r.Done())
	assert.False(t, out[1].Streaming)
	assert.Equal(t, "Hello", out[1].Text, "events after completion are inert")
	requireValid(t, out)
}

func TestAgent_ImageBecomesAttachment(t *testing.T) {
	msgs := turn(scout)
	_, out := Fold(NewAgent(msgs[1]), msgs,
		event.RunContent{Type: "image", Content: "aGk=", MimeType: "image/png"},
		event.RunContent{Type: "image", Content: "aGk=", MimeType: "image/jpeg", Filename: "cat.jpg"},
	)

	m := out[1]
	assert.Empty(t, m.Text)
	require.Len(t, m.Attachments, 2)
	assert.Equal(t, DefaultImageFilename, m.Attachments[0].Filename)
	assert.Equal(t, []byte("hi"), m.Attachments[0].Data)
	assert.Equal(t, "cat.jpg", m.Attachments[1].Filename)
	assert.Len(t, m.Versions[m.ActiveVersion].Attachments, 2)
}

func TestAgent_ToolCalls(t *testing.T) {
	msgs := turn(scout)
	_, out := Fold(NewAgent(msgs[1]), msgs,
		event.ToolCallStarted{Tool: event.Tool{ID: "c1", Name: "search", Args: map[string]any{"q": "go"}}},
		event.ToolCallStarted{Tool: event.Tool{ID: "c1", Name: "search"}},
		event.ToolCallStarted{Tool: event.Tool{ID: "c2", Name: "fetch"}},
		event.ToolCallCompleted{Tool: event.Tool{ID: "c1", Output: "3 results"}},
		event.ToolCallCompleted{Tool: event.Tool{ID: "c2", Failed: true}},
		event.ToolCallCompleted{Tool: event.Tool{ID: "c3", Name: "late", Output: "x"}},
	)

	calls := out[1].ToolCalls
	require.Len(t, calls, 3)
	assert.Equal(t, chat.StatusCompleted, calls[0].Status)
	assert.Equal(t, "3 results", calls[0].Output)
	assert.Equal(t, "go", calls[0].Args["q"])
	assert.Equal(t, chat.StatusFailed, calls[1].Status)
	assert.Equal(t, chat.StatusCompleted, calls[2].Status)
}

func TestAgent_EndWithoutCompletion(t *testing.T) {
	msgs := turn(scout)
	r, out := Fold(NewAgent(msgs[1]), msgs, event.RunContent{Content: "partial"})
	r, out = step(out, r.End)

	assert.True(t, r.Done())
	assert.False(t, out[1].Streaming)
	assert.Equal(t, "partial", out[1].Text)
}

func TestAgent_TransportFailure(t *testing.T) {
	msgs := turn(scout)
	r, out := Fold(NewAgent(msgs[1]), msgs, event.RunContent{Content: "partial"})
	r, out = step(out, func(v View) (Reducer, chat.Delta) { return r.Fail(v, errBroken) })

	assert.True(t, r.Done())
	assert.False(t, out[1].Streaming)
	assert.Equal(t, "Sorry, an error occurred with agent Scout.", out[1].Text)
	requireValid(t, out)
}

func TestAgent_CancelKeepsPartialWithoutNotice(t *testing.T) {
	msgs := turn(scout)
	r, out := Fold(NewAgent(msgs[1]), msgs, event.RunContent{Content: "partial"})
	r, out = step(out, r.Cancel)

	assert.False(t, out[1].Streaming)
	assert.Equal(t, "partial", out[1].Text)
	assert.Empty(t, out[1].Error)

	// Cancelling again, or failing after cancellation, changes nothing.
	_, d := r.Cancel(Messages(out))
	assert.True(t, d.Empty())
	_, d = r.Fail(Messages(out), errBroken)
	assert.True(t, d.Empty())
}

func TestAgent_RunError(t *testing.T) {
	msgs := turn(scout)
	r, out := Fold(NewAgent(msgs[1]), msgs, event.RunError{Error: "rate limited"})

	assert.True(t, r.Done())
	assert.Equal(t, "rate limited", out[1].Error)
	assert.False(t, out[1].Streaming)
}

func TestAgent_RegeneratedVersion(t *testing.T) {
	msgs := turn(scout)
	_, out := Fold(NewAgent(msgs[1]), msgs, event.RunContent{Content: "first"}, event.RunCompleted{})

	ph := out[1]
	ph.Reopen()
	out = chat.Delta{Replace: []chat.Message{ph}}.ApplyTo(out)
	require.Len(t, out[1].Versions, 2)
	assert.Equal(t, 1, out[1].ActiveVersion)
	assert.Empty(t, out[1].Text)

	_, out = Fold(NewAgent(out[1]), out, event.RunContent{Content: "second"}, event.RunCompleted{})
	assert.Equal(t, "second", out[1].Text)
	assert.Equal(t, "first", out[1].Versions[0].Text)
	requireValid(t, out)
}
