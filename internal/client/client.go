// ABOUTME: HTTP client for the execution service's directory, session and cancel endpoints
// ABOUTME: Shared request plumbing and error decoding live here

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// ErrNotFound is returned when the service answers 404.
var ErrNotFound = errors.New("not found")

const errorBodyMax = 512

// StatusError is a non-success answer from the service.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrNotFound) work for 404 answers.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// errorBody is the JSON error shape some endpoints return.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Client talks to the remote execution service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for baseURL. A nil httpClient uses
// http.DefaultClient; a nil logger uses slog.Default().
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger.With("component", "client"),
	}
}

// BaseURL is the service root the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends a request and decodes a JSON answer into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(method, path, resp)
	}
	c.logger.Debug("request ok", "method", method, "path", path, "status", resp.StatusCode)

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyMax))
	msg := strings.TrimSpace(string(body))

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		switch {
		case eb.Error != "":
			msg = eb.Error
		case eb.Detail != "":
			msg = eb.Detail
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: msg}
}
