// Package transport opens streamed run requests against the remote
// execution service.
//
// Each Session is one POST to the target's run endpoint carrying the message,
// the session id and any files as a multipart form. The response body is
// consumed chunk by chunk through Next. Every session owns its own
// cancellation; cancelling one never affects another, and a cancelled session
// reports ErrCancelled rather than an *Error so callers can tell an abort from
// a failure.
package transport
