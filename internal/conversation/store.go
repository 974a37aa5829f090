// ABOUTME: Conversation store: the single committed copy of the active chat session
// ABOUTME: Applies whole-message deltas atomically and owns attachment preview handles

package conversation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/chat"
)

// Store holds the active session. All mutations are serialized; readers get
// deep copies.
type Store struct {
	mu       sync.Mutex
	session  *chat.ChatSession
	pending  []chat.Attachment
	previews *Previews
	feed     *Broadcaster
	logger   *slog.Logger
}

// NewStore creates a store with an empty session. Pass nil logger for
// default and nil previews for a private registry.
func NewStore(previews *Previews, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if previews == nil {
		previews = NewPreviews(nil)
	}
	return &Store{
		session:  chat.NewSession(),
		previews: previews,
		feed:     NewBroadcaster(logger),
		logger:   logger.With("component", "conversation"),
	}
}

// SessionID returns the active session id.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.ID
}

// AppendUser appends a user message carrying text as typed and consumes the
// pending composer attachments.
func (s *Store) AppendUser(text string) chat.Message {
	s.mu.Lock()
	m := chat.NewUserMessage(text, s.pending)
	s.pending = nil
	s.session.Messages = append(s.session.Messages, m)
	s.touch()
	sessionID := s.session.ID
	s.mu.Unlock()

	s.feed.Publish(Change{Kind: ChangeAppended, SessionID: sessionID, MessageIDs: []string{m.ID}})
	return m.Clone()
}

// AppendBot inserts bot messages, each after the last message of its turn.
func (s *Store) AppendBot(msgs ...chat.Message) {
	if len(msgs) == 0 {
		return
	}
	s.Apply(chat.Delta{Append: msgs})
}

// Apply commits d atomically. Replacements for messages that no longer exist
// are dropped.
func (s *Store) Apply(d chat.Delta) {
	if d.Empty() {
		return
	}
	s.mu.Lock()
	s.session.Messages = d.ApplyTo(s.session.Messages)
	s.touch()
	sessionID := s.session.ID
	s.mu.Unlock()

	s.publishDelta(sessionID, d)
}

func (s *Store) publishDelta(sessionID string, d chat.Delta) {
	if len(d.Append) > 0 {
		s.feed.Publish(Change{Kind: ChangeAppended, SessionID: sessionID, MessageIDs: ids(d.Append)})
	}
	if len(d.Replace) > 0 {
		s.feed.Publish(Change{Kind: ChangeReplaced, SessionID: sessionID, MessageIDs: ids(d.Replace)})
	}
}

// View is read access to committed messages inside Step.
type View interface {
	Message(id string) (chat.Message, bool)
}

type lockedView struct{ s *Store }

func (v lockedView) Message(id string) (chat.Message, bool) {
	if i := v.s.index(id); i >= 0 {
		return v.s.session.Messages[i].Clone(), true
	}
	return chat.Message{}, false
}

// Step runs fn against the committed transcript and commits the delta it
// returns, all under the store lock, so one event-handling step is atomic.
// fn must not call back into the store.
func (s *Store) Step(fn func(v View) chat.Delta) chat.Delta {
	s.mu.Lock()
	d := fn(lockedView{s: s})
	if d.Empty() {
		s.mu.Unlock()
		return d
	}
	s.session.Messages = d.ApplyTo(s.session.Messages)
	s.touch()
	sessionID := s.session.ID
	s.mu.Unlock()

	s.publishDelta(sessionID, d)
	return d
}

// Update loads message id, passes a private copy to fn and commits it when
// fn returns true. It reports whether a change was committed.
func (s *Store) Update(id string, fn func(m *chat.Message) bool) bool {
	s.mu.Lock()
	i := s.index(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	m := s.session.Messages[i].Clone()
	if !fn(&m) {
		s.mu.Unlock()
		return false
	}
	s.session.Messages[i] = m
	s.touch()
	sessionID := s.session.ID
	s.mu.Unlock()

	s.feed.Publish(Change{Kind: ChangeReplaced, SessionID: sessionID, MessageIDs: []string{id}})
	return true
}

// SwitchVersion makes version index of message id active. Out of range
// indices and unknown messages are a no-op; it reports whether the view
// changed.
func (s *Store) SwitchVersion(id string, index int) bool {
	s.mu.Lock()
	i := s.index(id)
	if i < 0 || !s.session.Messages[i].IsBot() {
		s.mu.Unlock()
		return false
	}
	m := &s.session.Messages[i]
	if m.Streaming || !m.SelectVersion(index) {
		s.mu.Unlock()
		return false
	}
	sessionID := s.session.ID
	s.mu.Unlock()

	s.feed.Publish(Change{Kind: ChangeVersion, SessionID: sessionID, MessageIDs: []string{id}})
	return true
}

// AddAttachment queues a file for the next user message. Images get a
// preview handle.
func (s *Store) AddAttachment(filename, mimeType string, data []byte) chat.Attachment {
	a := chat.Attachment{
		ID:       uuid.New().String(),
		Filename: filename,
		MimeType: mimeType,
		Data:     append([]byte(nil), data...),
	}
	if strings.HasPrefix(mimeType, "image/") {
		a.PreviewID = s.previews.Acquire()
	}

	s.mu.Lock()
	s.pending = append(s.pending, a)
	sessionID := s.session.ID
	s.mu.Unlock()

	s.feed.Publish(Change{Kind: ChangeAttachment, SessionID: sessionID})
	return a
}

// PendingAttachments lists the attachments queued for the next message.
func (s *Store) PendingAttachments() []chat.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Attachment(nil), s.pending...)
}

// RemoveAttachment removes attachment id from the composer queue or from the
// message carrying it, and releases its preview. Removing an attachment that
// is already gone is a no-op.
func (s *Store) RemoveAttachment(id string) bool {
	s.mu.Lock()
	var removed *chat.Attachment
	var msgID string
	if i := attachmentIndex(s.pending, id); i >= 0 {
		a := s.pending[i]
		removed = &a
		s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
	} else {
		for mi := range s.session.Messages {
			if a, ok := removeFromMessage(&s.session.Messages[mi], id); ok {
				removed = &a
				msgID = s.session.Messages[mi].ID
				s.touch()
				break
			}
		}
	}
	sessionID := s.session.ID
	s.mu.Unlock()

	if removed == nil {
		return false
	}
	if removed.PreviewID != "" {
		s.previews.Release(removed.PreviewID)
	}
	c := Change{Kind: ChangeAttachment, SessionID: sessionID}
	if msgID != "" {
		c.MessageIDs = []string{msgID}
	}
	s.feed.Publish(c)
	return true
}

// Reset starts a new empty session and releases every preview the old one
// held.
func (s *Store) Reset() string {
	s.mu.Lock()
	old := s.previewIDs()
	s.session = chat.NewSession()
	s.pending = nil
	sessionID := s.session.ID
	s.mu.Unlock()

	s.previews.Release(old...)
	s.feed.Publish(Change{Kind: ChangeReset, SessionID: sessionID})
	s.logger.Debug("session reset", "session_id", sessionID)
	return sessionID
}

// Load replaces the active session with sess. Preview handles from the
// previous session are released; loaded attachments carry none.
func (s *Store) Load(sess chat.ChatSession) {
	loaded := cloneSession(sess)
	for i := range loaded.Messages {
		stripPreviews(&loaded.Messages[i])
		// A stored session may have been saved mid-stream.
		loaded.Messages[i].Streaming = false
	}

	s.mu.Lock()
	old := s.previewIDs()
	s.session = &loaded
	s.pending = nil
	s.mu.Unlock()

	s.previews.Release(old...)
	s.feed.Publish(Change{Kind: ChangeLoaded, SessionID: loaded.ID})
	s.logger.Debug("session loaded", "session_id", loaded.ID, "messages", len(loaded.Messages))
}

// Snapshot returns a deep copy of the active session.
func (s *Store) Snapshot() chat.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSession(*s.session)
}

// Messages returns a deep copy of the transcript.
func (s *Store) Messages() []chat.Message {
	return s.Snapshot().Messages
}

// Message returns a copy of message id.
func (s *Store) Message(id string) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(id); i >= 0 {
		return s.session.Messages[i].Clone(), true
	}
	return chat.Message{}, false
}

// Turn returns copies of the bot messages answering userMessageID.
func (s *Store) Turn(userMessageID string) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chat.Message
	for _, m := range s.session.Messages {
		if m.IsBot() && m.UserMessageID == userMessageID {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Streaming reports whether any message is still streaming.
func (s *Store) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.session.Messages {
		if m.Streaming {
			return true
		}
	}
	return false
}

// Subscribe registers for change notifications until ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context) (<-chan Change, string) {
	return s.feed.Subscribe(ctx)
}

// Unsubscribe ends a subscription early.
func (s *Store) Unsubscribe(subID string) {
	s.feed.Unsubscribe(subID)
}

// Close releases all previews and ends every subscription.
func (s *Store) Close() {
	s.mu.Lock()
	old := s.previewIDs()
	s.pending = nil
	s.mu.Unlock()

	s.previews.Release(old...)
	s.feed.Close()
}

// touch must be called with mu held.
func (s *Store) touch() {
	s.session.UpdatedAt = time.Now()
}

// index must be called with mu held.
func (s *Store) index(id string) int {
	for i := range s.session.Messages {
		if s.session.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// previewIDs collects every live preview handle. Must be called with mu held.
func (s *Store) previewIDs() []string {
	var out []string
	add := func(atts []chat.Attachment) {
		for _, a := range atts {
			if a.PreviewID != "" {
				out = append(out, a.PreviewID)
			}
		}
	}
	add(s.pending)
	for _, m := range s.session.Messages {
		add(m.Attachments)
		for _, v := range m.Versions {
			add(v.Attachments)
		}
	}
	return out
}

func removeFromMessage(m *chat.Message, id string) (chat.Attachment, bool) {
	i := attachmentIndex(m.Attachments, id)
	if i < 0 {
		return chat.Attachment{}, false
	}
	a := m.Attachments[i]
	m.Attachments = append(m.Attachments[:i:i], m.Attachments[i+1:]...)
	if m.IsBot() && m.ActiveVersion >= 0 && m.ActiveVersion < len(m.Versions) {
		v := &m.Versions[m.ActiveVersion]
		if j := attachmentIndex(v.Attachments, id); j >= 0 {
			v.Attachments = append(v.Attachments[:j:j], v.Attachments[j+1:]...)
		}
	}
	return a, true
}

func attachmentIndex(atts []chat.Attachment, id string) int {
	for i := range atts {
		if atts[i].ID == id {
			return i
		}
	}
	return -1
}

func stripPreviews(m *chat.Message) {
	for i := range m.Attachments {
		m.Attachments[i].PreviewID = ""
	}
	for vi := range m.Versions {
		for ai := range m.Versions[vi].Attachments {
			m.Versions[vi].Attachments[ai].PreviewID = ""
		}
	}
}

func cloneSession(s chat.ChatSession) chat.ChatSession {
	c := s
	if s.Messages != nil {
		c.Messages = make([]chat.Message, len(s.Messages))
		for i, m := range s.Messages {
			c.Messages[i] = m.Clone()
		}
	}
	return c
}

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
