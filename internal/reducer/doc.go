// Package reducer folds the event stream of one run into transcript changes.
//
// There is one reducer per target kind:
//
//   - Agent: a single bot message receives text, inline images and the
//     agent's own tool calls.
//   - Team: the stream interleaves the team leader, delegated members and
//     tool invocations. The reducer keeps explicit cursors for the open
//     leader and member sub-messages and splits the stream into separate
//     entries in arrival order.
//   - Workflow: a single bot message carries a WorkflowRun whose steps
//     collect step-scoped content while unscoped content forms the answer.
//
// Reducers are values. Apply, End, Fail and Cancel read the committed
// transcript through a View and return the next reducer plus a chat.Delta of
// whole-message replacements and appends; they never mutate shared state.
// A run is replayable with Fold:
//
//	r, msgs := reducer.Fold(reducer.New(placeholder, dir), msgs, events...)
package reducer
