// ABOUTME: Whole-message changes produced by reducers and committed by the store
// ABOUTME: Appended bot messages land after the last message of their turn

package chat

// Delta is one atomic change to a transcript. Replace swaps existing
// messages by ID; Append inserts new bot messages after the last message of
// the turn named by their UserMessageID, or at the end when they have none.
// Changes addressed to messages or turns that no longer exist are dropped, so
// a run that outlives its session cannot leak into the next one.
type Delta struct {
	Replace []Message
	Append  []Message
}

// Empty reports whether the delta changes nothing.
func (d Delta) Empty() bool {
	return len(d.Replace) == 0 && len(d.Append) == 0
}

// ApplyTo returns msgs with the delta applied. The input slice is not
// modified.
func (d Delta) ApplyTo(msgs []Message) []Message {
	out := make([]Message, len(msgs), len(msgs)+len(d.Append))
	copy(out, msgs)

	for _, r := range d.Replace {
		for i := range out {
			if out[i].ID == r.ID {
				out[i] = r.Clone()
				break
			}
		}
	}
	for _, a := range d.Append {
		at := TurnEnd(out, a.UserMessageID)
		if at < 0 {
			continue
		}
		out = append(out, Message{})
		copy(out[at+1:], out[at:])
		out[at] = a.Clone()
	}
	return out
}

// TurnEnd returns the index just past the last message of the turn started
// by userMessageID. An empty id means the end of the transcript; an unknown
// turn yields -1.
func TurnEnd(msgs []Message, userMessageID string) int {
	if userMessageID == "" {
		return len(msgs)
	}
	last := -1
	for i := range msgs {
		if msgs[i].ID == userMessageID || msgs[i].UserMessageID == userMessageID {
			last = i
		}
	}
	if last < 0 {
		return -1
	}
	return last + 1
}
