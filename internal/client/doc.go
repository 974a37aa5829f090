// Package client is the HTTP client for the remote execution service.
//
// # Overview
//
// The chat engine streams runs through the transport package. Everything
// else it needs from the service goes through Client:
//
//   - ListAgents, ListTeams, ListWorkflows: the target directory
//   - ListSessions, GetSession, DeleteSession: remote conversations
//   - CancelRun: out-of-band stop of an in-flight run
//
// Client satisfies target.Source, so a directory refresh is
//
//	err := registry.Refresh(ctx, client.New(baseURL, nil, logger))
//
// # Errors
//
// Non-success answers are returned as *StatusError carrying the status code
// and the server's message. A 404 also matches ErrNotFound with errors.Is.
package client
