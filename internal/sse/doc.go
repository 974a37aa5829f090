// Package sse splits a streamed event-stream body into frames.
//
// The transport delivers bytes in arbitrary chunk sizes. Parser keeps a
// carry-over buffer and only emits a Frame once its blank-line delimiter has
// been seen, so feeding a body in one chunk or split at any byte offset
// yields the same frames.
//
// Wire format:
//
//	event: RunContent
//	data: {"content":"hel"}
//
//	data: {"content":"lo"}
//
// A missing event line means "message". Multiple data lines are joined
// with "\n". Lines starting with ':' are comments.
package sse
