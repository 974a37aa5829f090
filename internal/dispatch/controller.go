// ABOUTME: Send, regenerate and cancel: drives resolver, transport, parser and reducers
// ABOUTME: Keeps one cancellation handle per in-flight bot message

package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/reducer"
	"github.com/2389/coven-chat/internal/sse"
	"github.com/2389/coven-chat/internal/target"
	"github.com/2389/coven-chat/internal/transport"
)

var (
	// ErrEmptyMessage is returned by Send when there is neither text nor a
	// pending attachment.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrDuplicateSend is returned by Send when its idempotency key was
	// already used.
	ErrDuplicateSend = errors.New("duplicate send")
	// ErrBusy is returned by Regenerate while any message is streaming.
	ErrBusy = errors.New("a response is still streaming")
	// ErrUserMessageNotFound is returned by Regenerate for an unknown user
	// message.
	ErrUserMessageNotFound = errors.New("user message not found")
)

// RunCanceller requests out-of-band cancellation of a remote run.
type RunCanceller interface {
	CancelRun(ctx context.Context, t chat.Target, runID string) error
}

// Options configures a Controller. Every field is optional.
type Options struct {
	// DefaultKind and DefaultID name the configured default target.
	DefaultKind chat.TargetKind
	DefaultID   string
	// Canceller is asked to stop runs whose id is known when Cancel is
	// called.
	Canceller RunCanceller
	// Keys rejects repeated idempotency keys.
	Keys   *dedupe.Cache
	Logger *slog.Logger
}

// SendRequest is one user utterance.
type SendRequest struct {
	Text           string
	IdempotencyKey string
}

// Result reports what a send or regeneration dispatched.
type Result struct {
	UserMessage chat.Message
	// Streams lists the bot messages with a live run, in dispatch order.
	Streams []string
	// Failures lists mentions that resolved nowhere.
	Failures []target.Failure
}

// Controller dispatches user messages to their targets and folds the
// replies into the store.
type Controller struct {
	store     *conversation.Store
	dir       *target.Registry
	dialer    *transport.Dialer
	canceller RunCanceller
	keys      *dedupe.Cache
	logger    *slog.Logger

	defKind chat.TargetKind
	defID   string

	// gate serializes the busy check and reopen of Regenerate.
	gate sync.Mutex

	mu       sync.Mutex
	selected *chat.Target
	runs     map[string]*run

	wg sync.WaitGroup
}

// run is the cancellation handle of one in-flight session.
type run struct {
	session *transport.Session
	target  chat.Target
	runID   string
}

// New creates a controller.
func New(store *conversation.Store, dir *target.Registry, dialer *transport.Dialer, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	kind := opts.DefaultKind
	if kind == "" {
		kind = chat.KindAgent
	}
	return &Controller{
		store:     store,
		dir:       dir,
		dialer:    dialer,
		canceller: opts.Canceller,
		keys:      opts.Keys,
		logger:    logger.With("component", "dispatch"),
		defKind:   kind,
		defID:     opts.DefaultID,
		runs:      make(map[string]*run),
	}
}

// Select makes t the default target for messages without mentions. Passing
// nil restores the configured default.
func (c *Controller) Select(t *chat.Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t == nil {
		c.selected = nil
		return
	}
	sel := *t
	c.selected = &sel
}

// Default returns the target used for messages without mentions, or nil
// when there is none.
func (c *Controller) Default() *chat.Target {
	c.mu.Lock()
	sel := c.selected
	c.mu.Unlock()
	if sel != nil {
		t := *sel
		return &t
	}
	return c.dir.Get().Default(c.defKind, c.defID)
}

// Send appends the user message, resolves its targets and starts one stream
// per target. Resolution failures become notices in the transcript; only
// argument errors are returned. Streams run until they finish, Cancel is
// called or ctx ends.
func (c *Controller) Send(ctx context.Context, req SendRequest) (Result, error) {
	if strings.TrimSpace(req.Text) == "" && len(c.store.PendingAttachments()) == 0 {
		return Result{}, ErrEmptyMessage
	}
	if req.IdempotencyKey != "" && c.keys != nil && !c.keys.Claim(req.IdempotencyKey) {
		return Result{}, ErrDuplicateSend
	}

	user := c.store.AppendUser(req.Text)
	res, err := target.Resolve(user.Text, c.dir.Get(), c.Default())
	if err != nil {
		c.logger.Info("no target for message", "user_message_id", user.ID)
		c.store.AppendBot(chat.NewNotice(user.ID, target.NoTargetNotice))
		return Result{UserMessage: user}, nil
	}

	out := Result{UserMessage: user, Failures: res.Failures}
	var batch []chat.Message
	for _, t := range res.Targets {
		batch = append(batch, placeholder(user.ID, t))
	}
	for _, f := range res.Failures {
		c.logger.Info("mention not resolved", "kind", f.Mention.Kind, "name", f.Mention.Name)
		batch = append(batch, chat.NewNotice(user.ID, f.Notice()))
	}
	c.store.AppendBot(batch...)

	sessionID := c.store.SessionID()
	for _, m := range batch[:len(res.Targets)] {
		c.start(ctx, m, transport.Request{
			Target:    *m.Target,
			Message:   res.Text,
			SessionID: sessionID,
			Files:     files(user.Attachments),
		})
		out.Streams = append(out.Streams, m.ID)
	}

	c.logger.Debug("message dispatched",
		"user_message_id", user.ID,
		"targets", len(res.Targets),
		"failures", len(res.Failures))
	return out, nil
}

// Regenerate re-runs the targets named by the user message's own mentions
// and streams each answer into a new version of its existing bot message.
// A message without mentions re-runs the targets that answered it, whatever
// is selected now. Bot messages whose target no longer resolves keep their
// history untouched.
func (c *Controller) Regenerate(ctx context.Context, userMessageID string) (Result, error) {
	c.gate.Lock()
	defer c.gate.Unlock()

	if c.store.Streaming() {
		return Result{}, ErrBusy
	}
	user, ok := c.store.Message(userMessageID)
	if !ok || user.Role != chat.RoleUser {
		return Result{}, ErrUserMessageNotFound
	}

	out := Result{UserMessage: user}
	text := strings.TrimSpace(user.Text)
	var wanted map[string]bool
	if len(target.Mentions(user.Text)) > 0 {
		res, err := target.Resolve(user.Text, c.dir.Get(), nil)
		if err != nil {
			c.logger.Info("nothing to regenerate", "user_message_id", user.ID)
			return out, nil
		}
		out.Failures = res.Failures
		text = res.Text
		wanted = make(map[string]bool, len(res.Targets))
		for _, t := range res.Targets {
			wanted[t.Key()] = true
		}
	}

	sessionID := c.store.SessionID()
	for _, prev := range c.store.Turn(user.ID) {
		if prev.Target == nil || (wanted != nil && !wanted[prev.Target.Key()]) {
			continue
		}
		var reopened chat.Message
		if !c.store.Update(prev.ID, func(m *chat.Message) bool {
			m.Reopen()
			reopened = m.Clone()
			return true
		}) {
			continue
		}
		c.start(ctx, reopened, transport.Request{
			Target:    *reopened.Target,
			Message:   text,
			SessionID: sessionID,
			Files:     files(user.Attachments),
		})
		out.Streams = append(out.Streams, reopened.ID)
	}

	c.logger.Debug("turn regenerated", "user_message_id", user.ID, "streams", len(out.Streams))
	return out, nil
}

// Cancel stops every in-flight stream and asks the remote service to stop
// runs whose id is known. Partial output is kept. It returns the number of
// streams cancelled.
func (c *Controller) Cancel(ctx context.Context) int {
	c.mu.Lock()
	runs := make([]run, 0, len(c.runs))
	for _, r := range c.runs {
		runs = append(runs, *r)
	}
	c.mu.Unlock()

	for _, r := range runs {
		r.session.Cancel()
	}
	for _, r := range runs {
		c.cancelRemote(ctx, r)
	}
	return len(runs)
}

// CancelMessage stops the stream feeding bot message id. It reports false
// when no stream is registered for it.
func (c *Controller) CancelMessage(ctx context.Context, id string) bool {
	c.mu.Lock()
	r, ok := c.runs[id]
	var snapshot run
	if ok {
		snapshot = *r
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	snapshot.session.Cancel()
	c.cancelRemote(ctx, snapshot)
	return true
}

// Active lists the bot messages with an in-flight stream.
func (c *Controller) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.runs))
	for id := range c.runs {
		out = append(out, id)
	}
	return out
}

// Wait blocks until every stream started so far has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Reset cancels every in-flight stream, waits for them to settle and starts
// a new empty session. It returns the new session id.
func (c *Controller) Reset(ctx context.Context) string {
	c.gate.Lock()
	defer c.gate.Unlock()
	c.Cancel(ctx)
	c.Wait()
	return c.store.Reset()
}

// Load cancels every in-flight stream, waits for them to settle and makes
// sess the active session.
func (c *Controller) Load(ctx context.Context, sess chat.ChatSession) {
	c.gate.Lock()
	defer c.gate.Unlock()
	c.Cancel(ctx)
	c.Wait()
	c.store.Load(sess)
}

// Close cancels all streams and waits for them to finish.
func (c *Controller) Close(ctx context.Context) {
	c.Cancel(ctx)
	c.Wait()
}

func (c *Controller) cancelRemote(ctx context.Context, r run) {
	if c.canceller == nil || r.runID == "" {
		return
	}
	if err := c.canceller.CancelRun(ctx, r.target, r.runID); err != nil {
		c.logger.Warn("remote cancel failed",
			"target", r.target.Key(),
			"run_id", r.runID,
			"error", err)
	}
}

// start registers the session for msg and streams it on its own goroutine.
func (c *Controller) start(ctx context.Context, msg chat.Message, req transport.Request) {
	sess := c.dialer.Open(ctx, req)
	c.mu.Lock()
	c.runs[msg.ID] = &run{session: sess, target: req.Target}
	c.mu.Unlock()

	r := reducer.New(msg, c.dir.Get())
	c.wg.Go(func() {
		c.pump(msg.ID, sess, r)
	})
}

// pump reads sess until it ends and folds every frame through r.
func (c *Controller) pump(msgID string, sess *transport.Session, r reducer.Reducer) {
	logger := c.logger.With("message_id", msgID, "target", sess.Target().Key())
	defer func() {
		sess.Close()
		c.mu.Lock()
		delete(c.runs, msgID)
		c.mu.Unlock()
	}()

	step := func(fn func(v reducer.View) (reducer.Reducer, chat.Delta)) {
		c.store.Step(func(v conversation.View) chat.Delta {
			var d chat.Delta
			r, d = fn(v)
			return d
		})
		if id := r.RunID(); id != "" {
			c.mu.Lock()
			if h, ok := c.runs[msgID]; ok {
				h.runID = id
			}
			c.mu.Unlock()
		}
	}
	apply := func(frames []sse.Frame) {
		for _, f := range frames {
			ev, err := event.Decode(f)
			if err != nil {
				logger.Warn("skipping malformed frame", "event", f.Event, "error", err)
				continue
			}
			step(func(v reducer.View) (reducer.Reducer, chat.Delta) { return r.Apply(v, ev) })
		}
	}

	var parser sse.Parser
	for {
		chunk, err := sess.Next()
		if len(chunk) > 0 {
			apply(parser.Feed(chunk))
		}
		if r.Done() {
			logger.Debug("run finished")
			return
		}
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			if n := parser.Buffered(); n > 0 {
				logger.Debug("stream ended without a closing blank line", "buffered", n)
			}
			apply(parser.Flush())
			step(func(v reducer.View) (reducer.Reducer, chat.Delta) { return r.End(v) })
			logger.Debug("stream ended")
		case errors.Is(err, transport.ErrCancelled):
			step(func(v reducer.View) (reducer.Reducer, chat.Delta) { return r.Cancel(v) })
			logger.Debug("stream cancelled")
		default:
			logger.Warn("stream failed", "error", err)
			step(func(v reducer.View) (reducer.Reducer, chat.Delta) { return r.Fail(v, err) })
		}
		return
	}
}

// placeholder creates the streaming bot message answering userID from t.
func placeholder(userID string, t chat.Target) chat.Message {
	m := chat.NewBotMessage(userID)
	m.Target = &t
	switch t.Kind {
	case chat.KindTeam:
		m.Team = &chat.Team{ID: t.ID, Name: t.Name}
	case chat.KindWorkflow:
		m.WorkflowRun = chat.NewWorkflowRun(chat.Workflow{ID: t.ID, Name: t.Name})
	default:
		m.Agent = &chat.Agent{ID: t.ID, Name: t.Name}
	}
	return m
}

func files(atts []chat.Attachment) []transport.File {
	if len(atts) == 0 {
		return nil
	}
	out := make([]transport.File, len(atts))
	for i, a := range atts {
		out[i] = transport.File{Filename: a.Filename, MimeType: a.MimeType, Data: a.Data}
	}
	return out
}
