// Package chat defines the transcript model shared by every layer of coven-chat.
//
// # Overview
//
// A ChatSession is an ordered list of Messages. User messages carry the raw
// text the user typed (mention markup included). Bot messages answer exactly
// one user message (UserMessageID) and hold one or more Versions; the active
// version is mirrored into Message.Text and Message.Attachments so readers
// never have to index into Versions themselves.
//
// # Targets
//
// Messages are answered by targets of three kinds:
//
//   - agent: a single autonomous agent
//   - team: a leader plus delegated member agents
//   - workflow: an ordered list of steps
//
// A bot message created for a dispatch carries Target. Team sub-messages
// (member turns, leader narration, tool call announcements) do not.
//
// # Invariants
//
// Every bot Message has at least one Version, ActiveVersion indexes into
// Versions, and Text equals Versions[ActiveVersion].Text. Validate reports
// the first violation found.
package chat
