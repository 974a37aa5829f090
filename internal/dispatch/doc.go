// Package dispatch turns user messages into concurrent target runs.
//
// A Controller owns the pipeline for each run:
//
//	target.Resolve -> transport.Session -> sse.Parser -> event.Decode -> reducer -> conversation.Store
//
// Every resolved target gets its own transport session, goroutine and
// reducer. Sessions are registered by bot message id so Cancel and
// CancelMessage can stop them individually; a failure or cancellation in one
// never touches its siblings.
//
// Regenerate re-resolves a prior user message from its own mention markup
// and streams each matching answer into a fresh version of the same message.
package dispatch
