// Package store is the local archive of chat sessions.
//
// # Architecture
//
// Store is implemented by SQLiteStore (modernc.org/sqlite, no cgo) and by
// MockStore for tests. The archive is a convenience cache of finished
// conversations: the CLI saves the active session on /save and before /new,
// and loads one back into the conversation store wholesale.
//
// # Schema
//
//   - sessions: id, name, created_at, updated_at, message_count
//   - session_messages: one row per transcript entry, keyed by
//     (session_id, position), with the message encoded as JSON
//
// Deleting a session cascades to its messages.
//
// # Persistence Rules
//
// Preview handles and the streaming flag are process state and are cleared
// before a session is written. Timestamps are stored as fixed-width UTC
// strings so ordering by updated_at works in SQL.
package store
