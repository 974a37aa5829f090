// ABOUTME: Prints transcript changes to the terminal as they stream in
// ABOUTME: Tracks what was already printed per message so each change prints only what is new

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/conversation"
)

var (
	agentColor    = color.New(color.FgCyan, color.Bold)
	teamColor     = color.New(color.FgMagenta, color.Bold)
	workflowColor = color.New(color.FgYellow, color.Bold)
	noticeColor   = color.New(color.FgRed)
	userColor     = color.New(color.FgHiBlue)
	dimColor      = color.New(color.FgHiBlack)
	okColor       = color.New(color.FgGreen)
)

// progress is what has been printed for one message.
type progress struct {
	version  int
	text     string
	tool     chat.Status
	tools    map[string]chat.Status
	steps    map[string]stepProgress
	images   int
	errShown bool
}

type stepProgress struct {
	status  chat.Status
	printed int
}

func newProgress(m chat.Message) *progress {
	return &progress{
		version: versionOf(m),
		tools:   make(map[string]chat.Status),
		steps:   make(map[string]stepProgress),
	}
}

// versionOf changes whenever a message restarts in a new version.
func versionOf(m chat.Message) int {
	return len(m.Versions)*1000 + m.ActiveVersion
}

type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	seen    map[string]*progress
	current string
	midline bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, seen: make(map[string]*progress)}
}

// follow renders store changes until ctx ends or the store closes.
func (r *renderer) follow(ctx context.Context, s *conversation.Store) {
	changes, _ := s.Subscribe(ctx)
	for c := range changes {
		switch c.Kind {
		case conversation.ChangeAppended, conversation.ChangeReplaced:
			for _, id := range c.MessageIDs {
				if m, ok := s.Message(id); ok {
					r.render(m)
				}
			}
		case conversation.ChangeReset, conversation.ChangeLoaded:
			r.forget()
		}
	}
}

// render prints whatever part of m has not been printed yet.
func (r *renderer) render(m chat.Message) {
	if m.Role == chat.RoleUser {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.seen[m.ID]
	if !ok || p.version != versionOf(m) || !strings.HasPrefix(m.Text, p.text) {
		// New message, new version, or text that was replaced outright.
		p = newProgress(m)
		r.seen[m.ID] = p
		if r.current == m.ID {
			r.current = ""
		}
	}
	r.draw(m, p)
}

// settle renders the final state of msgs and ends the current line. It is
// called once a turn has finished so nothing is lost to dropped changes.
func (r *renderer) settle(msgs []chat.Message) {
	for _, m := range msgs {
		r.render(m)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	r.current = ""
}

// show prints m in full regardless of what was printed before.
func (r *renderer) show(m chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	r.current = ""
	if m.Role == chat.RoleUser {
		userColor.Fprint(r.out, "you> ")
		fmt.Fprintln(r.out, m.Text)
		for _, a := range m.Attachments {
			dimColor.Fprintf(r.out, "  [attached %s]\n", a.Filename)
		}
		return
	}
	r.draw(m, newProgress(m))
	r.endLine()
	r.current = ""
}

func (r *renderer) forget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = make(map[string]*progress)
	r.current = ""
}

func (r *renderer) draw(m chat.Message, p *progress) {
	if tc := m.ToolCall; tc != nil && tc.Status != p.tool {
		p.tool = tc.Status
		r.line(m, delegation(tc), statusColor(tc.Status))
	}

	for _, tc := range m.ToolCalls {
		if p.tools[tc.ID] == tc.Status {
			continue
		}
		p.tools[tc.ID] = tc.Status
		r.line(m, toolLine(tc), statusColor(tc.Status))
	}

	if run := m.WorkflowRun; run != nil {
		for _, st := range run.Steps {
			r.drawStep(m, p, st)
		}
	}

	if len(m.Text) > len(p.text) {
		r.header(m)
		fmt.Fprint(r.out, m.Text[len(p.text):])
		r.midline = !strings.HasSuffix(m.Text, "\n")
		p.text = m.Text
	}

	for _, a := range m.Attachments[min(p.images, len(m.Attachments)):] {
		r.line(m, fmt.Sprintf("[image %s]", a.Filename), dimColor)
	}
	p.images = len(m.Attachments)

	if m.Error != "" && !p.errShown {
		p.errShown = true
		r.line(m, "error: "+m.Error, noticeColor)
	}
}

func (r *renderer) drawStep(m chat.Message, p *progress, st chat.WorkflowStep) {
	sp, known := p.steps[st.Name]
	if !known {
		r.line(m, "▸ "+st.Name, workflowColor)
	}
	if len(st.Content) > sp.printed {
		for _, l := range strings.Split(strings.TrimRight(st.Content[sp.printed:], "\n"), "\n") {
			r.line(m, "  "+l, nil)
		}
		sp.printed = len(st.Content)
	}
	if st.Status != sp.status && st.Status != chat.StatusRunning {
		mark := "✓ "
		if st.Status == chat.StatusFailed {
			mark = "✗ "
		}
		r.line(m, mark+st.Name, statusColor(st.Status))
	}
	sp.status = st.Status
	p.steps[st.Name] = sp
}

// header announces m when output switches to it from another message.
func (r *renderer) header(m chat.Message) {
	if r.current == m.ID {
		return
	}
	r.endLine()
	label, c := labelOf(m)
	c.Fprintf(r.out, "[%s]\n", label)
	r.current = m.ID
}

func (r *renderer) line(m chat.Message, s string, c *color.Color) {
	r.header(m)
	r.endLine()
	if c == nil {
		fmt.Fprintln(r.out, s)
		return
	}
	c.Fprintln(r.out, s)
}

func (r *renderer) endLine() {
	if r.midline {
		fmt.Fprintln(r.out)
		r.midline = false
	}
}

func labelOf(m chat.Message) (string, *color.Color) {
	var label string
	c := noticeColor
	switch {
	case m.WorkflowRun != nil:
		label, c = "workflow "+m.WorkflowRun.Workflow.Name, workflowColor
	case m.Agent != nil:
		label, c = "agent "+m.Agent.Name, agentColor
	case m.Team != nil:
		label, c = "team "+m.Team.Name, teamColor
	default:
		label = "notice"
	}
	if n := len(m.Versions); n > 1 {
		label += fmt.Sprintf(" v%d/%d", m.ActiveVersion+1, n)
	}
	return label, c
}

func toolLine(tc chat.ToolCall) string {
	switch tc.Status {
	case chat.StatusCompleted:
		return "✓ " + tc.ToolName
	case chat.StatusFailed:
		if tc.Output != "" {
			return "✗ " + tc.ToolName + ": " + tc.Output
		}
		return "✗ " + tc.ToolName
	default:
		return "⚙ " + tc.ToolName
	}
}

func delegation(tc *chat.ToolCall) string {
	s := "→ " + tc.ToolName
	if tc.DelegatedTo != "" {
		s = "→ " + tc.DelegatedTo
	}
	if task := tc.Task(); task != "" {
		s += ": " + task
	}
	switch tc.Status {
	case chat.StatusCompleted:
		s += " (done)"
	case chat.StatusFailed:
		s += " (failed)"
	}
	return s
}

func statusColor(s chat.Status) *color.Color {
	switch s {
	case chat.StatusCompleted:
		return okColor
	case chat.StatusFailed:
		return noticeColor
	default:
		return dimColor
	}
}
