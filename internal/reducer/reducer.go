// ABOUTME: Shared reducer contract: pure folds from run events to transcript deltas
// ABOUTME: Picks the reducer variant for a target kind and provides Fold for replay

package reducer

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/event"
)

// DefaultImageFilename names inline images that arrive without a filename.
const DefaultImageFilename = "image.png"

// View is read access to the committed transcript.
type View interface {
	Message(id string) (chat.Message, bool)
}

// AgentDirectory resolves agent ids to directory entries.
type AgentDirectory interface {
	Agent(id string) (chat.Agent, bool)
}

// Reducer folds the events of one run into transcript deltas. Every method
// returns the next state and leaves the receiver untouched. Once Done
// reports true all further input is inert.
type Reducer interface {
	// Apply folds one decoded event.
	Apply(v View, ev event.Event) (Reducer, chat.Delta)
	// End handles a stream that finished without a completion event.
	End(v View) (Reducer, chat.Delta)
	// Fail handles a transport failure.
	Fail(v View, err error) (Reducer, chat.Delta)
	// Cancel stops the run, keeping partial output without annotation.
	Cancel(v View) (Reducer, chat.Delta)
	// RunID is the server-side run id, once announced.
	RunID() string
	// Done reports whether the run reached a terminal state.
	Done() bool
}

// New returns the reducer for placeholder, chosen by its target kind.
func New(placeholder chat.Message, agents AgentDirectory) Reducer {
	t := chat.Target{Kind: chat.KindAgent}
	if placeholder.Target != nil {
		t = *placeholder.Target
	}
	switch t.Kind {
	case chat.KindTeam:
		return NewTeam(placeholder, agents)
	case chat.KindWorkflow:
		return NewWorkflow(placeholder)
	default:
		return NewAgent(placeholder)
	}
}

// FailureNotice is the transcript text for a transport failure on t.
func FailureNotice(t chat.Target) string {
	name := t.Name
	if name == "" {
		name = t.ID
	}
	return fmt.Sprintf("Sorry, an error occurred with %s %s.", t.Kind, name)
}

// Messages is a View over a plain slice.
type Messages []chat.Message

// Message finds a message by id.
func (m Messages) Message(id string) (chat.Message, bool) {
	for i := range m {
		if m[i].ID == id {
			return m[i], true
		}
	}
	return chat.Message{}, false
}

// Fold replays events through r starting from msgs and returns the final
// reducer and transcript. Used for replaying recorded runs.
func Fold(r Reducer, msgs []chat.Message, events ...event.Event) (Reducer, []chat.Message) {
	for _, ev := range events {
		var d chat.Delta
		r, d = r.Apply(Messages(msgs), ev)
		msgs = d.ApplyTo(msgs)
	}
	return r, msgs
}

// edit batches changes to messages read from a view. Each message is loaded
// once, mutated on a private copy and emitted as a whole replacement.
type edit struct {
	v       View
	order   []string
	changed map[string]*chat.Message
	appends []*chat.Message
}

func newEdit(v View) *edit {
	return &edit{v: v, changed: make(map[string]*chat.Message)}
}

// get returns a mutable copy of message id, or nil when it is unknown.
func (e *edit) get(id string) *chat.Message {
	if id == "" {
		return nil
	}
	if m, ok := e.changed[id]; ok {
		return m
	}
	for _, m := range e.appends {
		if m.ID == id {
			return m
		}
	}
	m, ok := e.v.Message(id)
	if !ok {
		return nil
	}
	c := m.Clone()
	e.changed[id] = &c
	e.order = append(e.order, id)
	return &c
}

// add queues a new message and returns it for further edits.
func (e *edit) add(m chat.Message) *chat.Message {
	e.appends = append(e.appends, &m)
	return &m
}

// stop clears the streaming flag of id.
func (e *edit) stop(id string) {
	if m := e.get(id); m != nil && m.Streaming {
		m.Streaming = false
	}
}

func (e *edit) delta() chat.Delta {
	var d chat.Delta
	for _, id := range e.order {
		d.Replace = append(d.Replace, *e.changed[id])
	}
	for _, m := range e.appends {
		d.Append = append(d.Append, *m)
	}
	return d
}

// addContent applies one content increment to m: inline images become
// attachments, everything else is appended text.
func addContent(m *chat.Message, ev event.RunContent) {
	if !ev.IsImage() {
		m.AppendText(ev.Content)
		return
	}
	data, ok := decodeImage(ev.Content)
	if !ok {
		return
	}
	name := ev.Filename
	if name == "" {
		name = DefaultImageFilename
	}
	m.AddAttachment(chat.Attachment{
		ID:       uuid.New().String(),
		Filename: name,
		MimeType: ev.MimeType,
		Data:     data,
	})
}

// decodeImage accepts raw base64 or a base64 data URL.
func decodeImage(s string) ([]byte, bool) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ";base64,"); i >= 0 {
			s = s[i+len(";base64,"):]
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, true
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, true
	}
	return nil, false
}

// withID returns ids plus id without sharing the backing array of ids.
func withID(ids []string, id string) []string {
	out := make([]string, len(ids), len(ids)+1)
	copy(out, ids)
	return append(out, id)
}
