// Package conversation holds the committed transcript of the active chat
// session.
//
// # Store
//
// The Store is the only place transcript mutations are committed. Reducer
// output arrives as chat.Delta values of whole-message replacements and
// appends; Step reads and commits under one lock so a single event-handling
// step is atomic even with several runs streaming at once.
//
//	store := conversation.NewStore(nil, logger)
//	user := store.AppendUser("@[Scout] find the paper")
//	store.AppendBot(placeholder)
//	store.Step(func(v conversation.View) chat.Delta {
//		r, d = r.Apply(v, ev)
//		return d
//	})
//
// Bot messages of a turn are always inserted after the last message of that
// turn. Changes addressed to a previous session are dropped.
//
// # Previews
//
// Image attachments get a preview handle from the Previews registry. A handle
// is released exactly once: when its attachment is removed, when the session
// is reset or replaced, or when the store closes.
//
// # Change Feed
//
// Subscribe delivers a Change after every commit. Channels are buffered and
// slow subscribers miss changes rather than stall the store; a subscriber
// re-reads state with Snapshot or Message.
package conversation
