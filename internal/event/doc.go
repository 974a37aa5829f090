// Package event decodes event-stream frames into typed run events.
//
// The remote service multiplexes agent, team and workflow progress onto a
// single stream distinguished by event name. Decode maps each known name to
// a concrete type and everything else to Unknown, so reducers never act on
// events they were not written for.
//
//	ev, err := event.Decode(frame)
//	if errors.Is(err, event.ErrMalformed) {
//		// log and skip the frame
//	}
package event
