// ABOUTME: Transcript types for coven-chat: sessions, messages, versions and attachments
// ABOUTME: Bot messages are version-aware; Text always mirrors the active version

package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// TargetKind is the kind of remote executor a message is addressed to.
type TargetKind string

const (
	KindAgent    TargetKind = "agent"
	KindTeam     TargetKind = "team"
	KindWorkflow TargetKind = "workflow"
)

// Agent is directory reference data for a single agent.
type Agent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Team is directory reference data for a multi-member team.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Workflow is directory reference data for a multi-step workflow.
type Workflow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Target is a resolved recipient of a user message.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
	Name string     `json:"name"`
}

// Key returns a string that is unique across all target kinds.
func (t Target) Key() string {
	return string(t.Kind) + ":" + t.ID
}

// Attachment is a file carried by a message. PreviewID names a revocable
// preview handle owned by the conversation store; empty means no preview.
type Attachment struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	Data      []byte `json:"data,omitempty"`
	PreviewID string `json:"preview_id,omitempty"`
}

// Version is one historical attempt at answering a user message.
type Version struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Message is one transcript entry.
type Message struct {
	ID            string       `json:"id"`
	Role          Role         `json:"role"`
	Text          string       `json:"text"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	UserMessageID string       `json:"user_message_id,omitempty"`
	Streaming     bool         `json:"streaming,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`

	// Bot-only fields.
	Target        *Target      `json:"target,omitempty"`
	Agent         *Agent       `json:"agent,omitempty"`
	Team          *Team        `json:"team,omitempty"`
	ToolCall      *ToolCall    `json:"tool_call,omitempty"`
	ToolCalls     []ToolCall   `json:"tool_calls,omitempty"`
	WorkflowRun   *WorkflowRun `json:"workflow_run,omitempty"`
	Error         string       `json:"error,omitempty"`
	Versions      []Version    `json:"versions,omitempty"`
	ActiveVersion int          `json:"active_version"`
}

// NewUserMessage creates a user transcript entry with the raw text as typed.
func NewUserMessage(text string, attachments []Attachment) Message {
	return Message{
		ID:          uuid.New().String(),
		Role:        RoleUser,
		Text:        text,
		Attachments: cloneAttachments(attachments),
		CreatedAt:   time.Now(),
	}
}

// NewBotMessage creates a streaming bot entry answering userMessageID,
// with a single empty version.
func NewBotMessage(userMessageID string) Message {
	return Message{
		ID:            uuid.New().String(),
		Role:          RoleBot,
		UserMessageID: userMessageID,
		Streaming:     true,
		Versions:      []Version{{}},
		CreatedAt:     time.Now(),
	}
}

// NewNotice creates a completed bot entry holding a synthetic notice.
func NewNotice(userMessageID, text string) Message {
	m := NewBotMessage(userMessageID)
	m.Streaming = false
	m.SetText(text)
	return m
}

// IsBot reports whether the message was authored by a target.
func (m *Message) IsBot() bool {
	return m.Role == RoleBot
}

// HasContent reports whether the active version holds text or attachments.
func (m *Message) HasContent() bool {
	return m.Text != "" || len(m.Attachments) > 0
}

// AppendText appends to the active version and refreshes Text.
func (m *Message) AppendText(s string) {
	m.ensureVersion()
	v := &m.Versions[m.ActiveVersion]
	v.Text += s
	m.Text = v.Text
}

// SetText replaces the active version text.
func (m *Message) SetText(s string) {
	m.ensureVersion()
	m.Versions[m.ActiveVersion].Text = s
	m.Text = s
}

// AddAttachment adds an attachment to the active version.
func (m *Message) AddAttachment(a Attachment) {
	m.ensureVersion()
	v := &m.Versions[m.ActiveVersion]
	v.Attachments = append(v.Attachments, a)
	m.Attachments = cloneAttachments(v.Attachments)
}

// StartVersion appends an empty version and makes it active.
func (m *Message) StartVersion() {
	m.ensureVersion()
	m.Versions = append(m.Versions, Version{})
	m.ActiveVersion = len(m.Versions) - 1
	m.Text = ""
	m.Attachments = nil
}

// Reopen prepares a finished bot message for another run: a new empty
// version becomes active, per-run state is cleared and the message streams
// again.
func (m *Message) Reopen() {
	m.StartVersion()
	m.ToolCall = nil
	m.ToolCalls = nil
	m.Error = ""
	m.Streaming = true
	if m.WorkflowRun != nil {
		m.WorkflowRun = NewWorkflowRun(m.WorkflowRun.Workflow)
	}
}

// SelectVersion makes version i active. It returns false and leaves the
// message untouched when i is out of range.
func (m *Message) SelectVersion(i int) bool {
	if i < 0 || i >= len(m.Versions) {
		return false
	}
	m.ActiveVersion = i
	m.Text = m.Versions[i].Text
	m.Attachments = cloneAttachments(m.Versions[i].Attachments)
	return true
}

// ensureVersion seeds a bot message that somehow lost its versions.
func (m *Message) ensureVersion() {
	if len(m.Versions) == 0 {
		m.Versions = []Version{{Text: m.Text, Attachments: cloneAttachments(m.Attachments)}}
		m.ActiveVersion = 0
	}
}

// Validate checks the version invariants of a bot message.
func (m *Message) Validate() error {
	if !m.IsBot() {
		return nil
	}
	if len(m.Versions) == 0 {
		return fmt.Errorf("message %s: no versions", m.ID)
	}
	if m.ActiveVersion < 0 || m.ActiveVersion >= len(m.Versions) {
		return fmt.Errorf("message %s: active version %d out of range [0,%d)", m.ID, m.ActiveVersion, len(m.Versions))
	}
	if m.Text != m.Versions[m.ActiveVersion].Text {
		return fmt.Errorf("message %s: text does not match active version", m.ID)
	}
	return nil
}

// Clone returns a deep copy; mutating the copy never affects m.
func (m Message) Clone() Message {
	c := m
	c.Attachments = cloneAttachments(m.Attachments)
	if m.Target != nil {
		t := *m.Target
		c.Target = &t
	}
	if m.Agent != nil {
		a := *m.Agent
		c.Agent = &a
	}
	if m.Team != nil {
		t := *m.Team
		c.Team = &t
	}
	if m.ToolCall != nil {
		tc := m.ToolCall.clone()
		c.ToolCall = &tc
	}
	if m.ToolCalls != nil {
		c.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			c.ToolCalls[i] = tc.clone()
		}
	}
	if m.WorkflowRun != nil {
		run := m.WorkflowRun.clone()
		c.WorkflowRun = &run
	}
	if m.Versions != nil {
		c.Versions = make([]Version, len(m.Versions))
		for i, v := range m.Versions {
			c.Versions[i] = Version{Text: v.Text, Attachments: cloneAttachments(v.Attachments)}
		}
	}
	return c
}

func cloneAttachments(in []Attachment) []Attachment {
	if in == nil {
		return nil
	}
	out := make([]Attachment, len(in))
	copy(out, in)
	return out
}

// ChatSession is the active conversation.
type ChatSession struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates an empty session with a fresh identifier.
func NewSession() *ChatSession {
	now := time.Now()
	return &ChatSession{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ErrDanglingReply is returned by ValidateSession when a bot message answers
// a user message that does not precede it.
var ErrDanglingReply = errors.New("bot message references unknown user message")

// ValidateSession checks per-message invariants and the reply backlinks.
func ValidateSession(msgs []Message) error {
	seen := make(map[string]bool, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		if err := m.Validate(); err != nil {
			return err
		}
		if m.IsBot() && m.UserMessageID != "" && !seen[m.UserMessageID] {
			return fmt.Errorf("%w: %s -> %s", ErrDanglingReply, m.ID, m.UserMessageID)
		}
		if m.Role == RoleUser {
			seen[m.ID] = true
		}
	}
	return nil
}
