// ABOUTME: Out-of-band cancellation of a remote run
// ABOUTME: Used alongside closing the stream so the service stops work too

package client

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/transport"
)

// CancelRun asks the service to stop run runID on t.
func (c *Client) CancelRun(ctx context.Context, t chat.Target, runID string) error {
	if runID == "" {
		return errors.New("run id required")
	}
	path := strings.TrimPrefix(transport.CancelURL(c.baseURL, t, runID), c.baseURL)
	if err := c.do(ctx, http.MethodPost, path, nil); err != nil {
		return err
	}
	c.logger.Info("run cancelled", "target", t.Key(), "run_id", runID)
	return nil
}
