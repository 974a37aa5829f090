// ABOUTME: Tests for slash command parsing and chat loop helpers
// ABOUTME: Covers mention-vs-command disambiguation and idempotency keys

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-chat/internal/chat"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		ok   bool
		name string
		args []string
	}{
		{line: "/help", ok: true, name: "help", args: []string{}},
		{line: "  /use team Research  ", ok: true, name: "use", args: []string{"team", "Research"}},
		{line: "/QUIT", ok: true, name: "quit", args: []string{}},
		{line: "/[Research] what now?", ok: false},
		{line: "hello /help", ok: false},
		{line: "@[Alice] hi", ok: false},
		{line: "/", ok: false},
		{line: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, ok := parseCommand(tt.line)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.name, cmd.name)
			assert.Equal(t, tt.args, cmd.args)
		})
	}
}

func TestIdempotencyKey(t *testing.T) {
	a := idempotencyKey("s1", "hello", nil)

	assert.Equal(t, a, idempotencyKey("s1", "hello", nil), "same submission, same key")
	assert.NotEqual(t, a, idempotencyKey("s2", "hello", nil), "keys are per session")
	assert.NotEqual(t, a, idempotencyKey("s1", "hello!", nil))
	assert.NotEqual(t, a, idempotencyKey("s1", "hello", []chat.Attachment{{ID: "att-1"}}),
		"a different attachment set is a different submission")
}

func TestMimeType(t *testing.T) {
	assert.Equal(t, "image/png", mimeType("shot.png", nil))
	assert.Equal(t, "application/pdf", mimeType("noext", []byte("%PDF-1.7\n")))
}
