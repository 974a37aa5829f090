// ABOUTME: One streamed run request per target with its own cancellation
// ABOUTME: Exposes the response body as a lazy sequence of raw chunks

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"

	"github.com/2389/coven-chat/internal/chat"
)

// ErrCancelled is returned by Next once the session has been cancelled. It
// is never wrapped in *Error.
var ErrCancelled = errors.New("transport: session cancelled")

const (
	chunkSize    = 4096
	errorBodyMax = 512
)

// Error is a transport failure: the request could not be sent, the server
// answered with a non-success status, or the body could not be read.
type Error struct {
	Target     chat.Target
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s %s: status %d: %v", e.Op, e.Target.Kind, e.Target.ID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Target.Kind, e.Target.ID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// File is one attachment sent with a run request.
type File struct {
	Filename string
	MimeType string
	Data     []byte
}

// Request describes one run request.
type Request struct {
	Target    chat.Target
	Message   string
	SessionID string
	Files     []File
}

// Dialer opens sessions against the remote execution service.
type Dialer struct {
	baseURL string
	userID  string
	client  *http.Client
	logger  *slog.Logger
}

// NewDialer creates a dialer. A nil client uses http.DefaultClient; a nil
// logger uses slog.Default().
func NewDialer(baseURL, userID string, client *http.Client, logger *slog.Logger) *Dialer {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		client:  client,
		logger:  logger.With("component", "transport"),
	}
}

// RunsURL is the run endpoint of t.
func RunsURL(baseURL string, t chat.Target) string {
	return fmt.Sprintf("%s/%ss/%s/runs", strings.TrimRight(baseURL, "/"), t.Kind, url.PathEscape(t.ID))
}

// CancelURL is the out-of-band cancellation endpoint of run runID on t.
func CancelURL(baseURL string, t chat.Target, runID string) string {
	return RunsURL(baseURL, t) + "/" + url.PathEscape(runID) + "/cancel"
}

// Open creates a session for req. No I/O happens until the first Next, so
// the session can be registered for cancellation before it connects.
func (d *Dialer) Open(ctx context.Context, req Request) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		dialer: d,
		req:    req,
		ctx:    ctx,
		cancel: cancel,
		logger: d.logger.With("target", req.Target.Key()),
	}
}

// Session is one in-flight streamed run request. Next must be called from a
// single goroutine; Cancel may be called from any goroutine.
type Session struct {
	dialer *Dialer
	req    Request
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu        sync.Mutex
	cancelled bool

	body io.ReadCloser
	done bool
}

// Target is the target this session streams from.
func (s *Session) Target() chat.Target {
	return s.req.Target
}

// Cancel aborts the session. It is idempotent and safe to call after the
// stream has ended.
func (s *Session) Cancel() {
	s.mu.Lock()
	already := s.cancelled
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
	if !already {
		s.logger.Debug("session cancelled")
	}
}

// Cancelled reports whether Cancel was called or the parent context ended.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled || errors.Is(s.ctx.Err(), context.Canceled)
}

// Next returns the next chunk of the response body. It connects on the first
// call. At the end of the stream it returns io.EOF; after cancellation it
// returns ErrCancelled; any other failure is an *Error.
func (s *Session) Next() ([]byte, error) {
	if s.Cancelled() {
		s.close()
		return nil, ErrCancelled
	}
	if s.done {
		return nil, io.EOF
	}
	if s.body == nil {
		if err := s.connect(); err != nil {
			s.done = true
			return nil, err
		}
	}

	buf := make([]byte, chunkSize)
	n, err := s.body.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	switch {
	case err == nil:
		return nil, nil
	case s.Cancelled():
		s.close()
		return nil, ErrCancelled
	case errors.Is(err, io.EOF):
		s.close()
		return nil, io.EOF
	default:
		s.close()
		return nil, &Error{Target: s.req.Target, Op: "read", Err: err}
	}
}

// Close releases the connection and the session's context.
func (s *Session) Close() error {
	s.close()
	s.cancel()
	return nil
}

func (s *Session) close() {
	s.done = true
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
}

func (s *Session) connect() error {
	body, contentType, err := s.encode()
	if err != nil {
		return &Error{Target: s.req.Target, Op: "encode", Err: err}
	}

	endpoint := RunsURL(s.dialer.baseURL, s.req.Target)
	httpReq, err := http.NewRequestWithContext(s.ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return &Error{Target: s.req.Target, Op: "request", Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := s.dialer.client.Do(httpReq)
	if err != nil {
		if s.Cancelled() {
			return ErrCancelled
		}
		return &Error{Target: s.req.Target, Op: "post", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyMax))
		resp.Body.Close()
		msg := strings.TrimSpace(string(detail))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{Target: s.req.Target, Op: "post", StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	s.body = resp.Body
	s.logger.Debug("stream opened", "status", resp.StatusCode)
	return nil
}

// encode builds the multipart form body.
func (s *Session) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"message", s.req.Message},
		{"stream", "true"},
		{"session_id", s.req.SessionID},
	}
	if s.dialer.userID != "" {
		fields = append(fields, [2]string{"user_id", s.dialer.userID})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", f[0], err)
		}
	}

	for _, f := range s.req.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Filename))
		mimeType := f.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		h.Set("Content-Type", mimeType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("creating file part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("writing file %s: %w", f.Filename, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
