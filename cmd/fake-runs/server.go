// ABOUTME: Scripted execution service: directory listings, streamed runs, cancellation and sessions
// ABOUTME: Agent, team and workflow runs replay fixed event scripts built from the posted message

package main

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/event"
)

// maxFormMemory caps the in-memory part of an uploaded form.
const maxFormMemory = 32 << 20

var (
	agents = []chat.Agent{
		{ID: "chat-agent", Name: "ChatAgent"},
		{ID: "researcher", Name: "Researcher"},
		{ID: "writer", Name: "Writer"},
	}
	teams = []chat.Team{
		{ID: "research-team", Name: "Research"},
	}
	workflows = []chat.Workflow{
		{ID: "daily-digest", Name: "Digest"},
	}
)

// frame is one scripted event.
type frame struct {
	name string
	data map[string]any
}

type session struct {
	ID        string `json:"session_id"`
	Name      string `json:"session_name"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

type server struct {
	delay  time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	runs     map[string]context.CancelFunc
	sessions map[string]*session
}

func newServer(delay time.Duration, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		delay:    delay,
		logger:   logger.With("component", "fake-runs"),
		runs:     make(map[string]context.CancelFunc),
		sessions: make(map[string]*session),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /agents", listHandler(agents))
	mux.HandleFunc("GET /teams", listHandler(teams))
	mux.HandleFunc("GET /workflows", listHandler(workflows))
	mux.HandleFunc("POST /{kind}/{id}/runs", s.handleRun)
	mux.HandleFunc("POST /{kind}/{id}/runs/{run}/cancel", s.handleCancel)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	return mux
}

func listHandler[T any](items []T) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, items)
	}
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form: "+err.Error())
		return
	}
	message := r.FormValue("message")
	var files []string
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			files = append(files, fh.Filename)
		}
	}

	id := r.PathValue("id")
	var script []frame
	switch r.PathValue("kind") {
	case "agents":
		a, ok := findAgent(id)
		if !ok {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		script = agentScript(a, message, files)
	case "teams":
		if !slices.ContainsFunc(teams, func(t chat.Team) bool { return t.ID == id }) {
			writeError(w, http.StatusNotFound, "team not found")
			return
		}
		script = teamScript(message)
	case "workflows":
		if !slices.ContainsFunc(workflows, func(wf chat.Workflow) bool { return wf.ID == id }) {
			writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		script = workflowScript(message)
	default:
		writeError(w, http.StatusNotFound, "unknown target kind")
		return
	}

	s.touchSession(r.FormValue("session_id"), message)

	runID := uuid.New().String()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s.mu.Lock()
	s.runs[runID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	logger := s.logger.With("run_id", runID, "target", id)
	logger.Info("run started", "message_len", len(message), "files", len(files))

	script = append([]frame{{event.NameRunStarted, map[string]any{"run_id": runID}}}, script...)
	for _, f := range script {
		select {
		case <-ctx.Done():
			logger.Info("run cancelled")
			return
		case <-time.After(s.delay):
		}
		if err := writeFrame(w, f); err != nil {
			logger.Warn("client went away", "error", err)
			return
		}
		flusher.Flush()
	}
	logger.Info("run completed")
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run")
	s.mu.Lock()
	cancel, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	cancel()
	s.logger.Info("run cancel requested", "run_id", runID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *server) touchSession(id, message string) {
	if id == "" {
		return
	}
	now := time.Now().Unix()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		name := message
		if len(name) > 40 {
			name = name[:40]
		}
		sess = &session{ID: id, Name: name, CreatedAt: now}
		s.sessions[id] = sess
	}
	sess.UpdatedAt = now
}

func (s *server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b session) int { return cmp.Compare(b.UpdatedAt, a.UpdatedAt) })
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.sessions[r.PathValue("id")]
	var out session
	if ok {
		out = *sess
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func findAgent(id string) (chat.Agent, bool) {
	for _, a := range agents {
		if a.ID == id {
			return a, true
		}
	}
	return chat.Agent{}, false
}

// words splits text into streamable increments that keep their spacing.
func words(text string) []string {
	var out []string
	for i, w := range strings.Fields(text) {
		if i > 0 {
			w = " " + w
		}
		out = append(out, w)
	}
	return out
}

func agentScript(a chat.Agent, message string, files []string) []frame {
	var script []frame
	if strings.Contains(strings.ToLower(message), "search") {
		tool := map[string]any{"tool_call_id": "call-1", "tool_name": "web_search", "tool_args": map[string]any{"query": message}}
		script = append(script, frame{event.NameToolCallStarted, map[string]any{"tool": tool}})
		done := map[string]any{"tool_call_id": "call-1", "tool_name": "web_search", "content": "3 results"}
		script = append(script, frame{event.NameToolCallCompleted, map[string]any{"tool": done}})
	}
	reply := fmt.Sprintf("%s heard: %s", a.Name, message)
	if len(files) > 0 {
		reply += fmt.Sprintf(" (with %s)", strings.Join(files, ", "))
	}
	for _, w := range words(reply) {
		script = append(script, frame{event.NameRunContent, map[string]any{"content": w}})
	}
	return append(script, frame{event.NameRunCompleted, map[string]any{}})
}

func teamScript(message string) []frame {
	member := agents[1]
	script := []frame{
		{event.NameTeamRunContent, map[string]any{"content": "Let me ask our researcher. "}},
		{event.NameTeamToolCallStarted, map[string]any{"tool": map[string]any{
			"tool_call_id": "delegate-1",
			"tool_name":    "delegate_task_to_member",
			"tool_args":    map[string]any{"member_id": member.ID, "task": message},
		}}},
		{event.NameRunStarted, map[string]any{"agent_id": member.ID, "agent_name": member.Name}},
	}
	for _, w := range words("Findings on: " + message) {
		script = append(script, frame{event.NameRunContent, map[string]any{"content": w, "agent_id": member.ID}})
	}
	script = append(script,
		frame{event.NameRunCompleted, map[string]any{"agent_id": member.ID}},
		frame{event.NameTeamToolCallCompleted, map[string]any{"tool": map[string]any{
			"tool_call_id": "delegate-1",
			"tool_name":    "delegate_task_to_member",
			"content":      "done",
		}}},
		frame{event.NameTeamRunContent, map[string]any{"content": "Summary: the researcher has answered."}},
		frame{event.NameTeamRunCompleted, map[string]any{}},
	)
	return script
}

func workflowScript(message string) []frame {
	return []frame{
		{event.NameStepStarted, map[string]any{"step_name": "collect"}},
		{event.NameRunContent, map[string]any{"content": "collected 3 items", "step_name": "collect"}},
		{event.NameStepCompleted, map[string]any{"step_name": "collect"}},
		{event.NameStepStarted, map[string]any{"step_name": "summarize"}},
		{event.NameRunContent, map[string]any{"content": "summary ready", "step_name": "summarize"}},
		{event.NameStepCompleted, map[string]any{"step_name": "summarize"}},
		{event.NameRunContent, map[string]any{"content": "Digest for: " + message}},
		{event.NameWorkflowRunCompleted, map[string]any{}},
	}
}

func writeFrame(w http.ResponseWriter, f frame) error {
	data, err := json.Marshal(f.data)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", f.name, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.name, data)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
