// ABOUTME: Contract tests run against both Store implementations
// ABOUTME: Covers save, overwrite, load order, listing, deletion and preview stripping

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/chat"
)

func implementations(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), nil)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"mock": func(t *testing.T) Store {
			s := NewMockStore()
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

// sampleSession builds a two-turn session with a regenerated answer, an
// image attachment carrying a preview handle and a workflow run.
func sampleSession(updated time.Time) chat.ChatSession {
	sess := chat.NewSession()
	sess.UpdatedAt = updated

	u1 := chat.NewUserMessage("@[Alice] hello", []chat.Attachment{{
		ID: "att-1", Filename: "cat.png", MimeType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}, PreviewID: "preview-1",
	}})
	b1 := chat.NewBotMessage(u1.ID)
	b1.Target = &chat.Target{Kind: chat.KindAgent, ID: "a1", Name: "Alice"}
	b1.AppendText("first")
	b1.Reopen()
	b1.AppendText("second")
	b1.Streaming = true

	u2 := chat.NewUserMessage("![Digest] go", nil)
	b2 := chat.NewBotMessage(u2.ID)
	b2.Streaming = false
	b2.WorkflowRun = chat.NewWorkflowRun(chat.Workflow{ID: "w1", Name: "Digest"})
	b2.WorkflowRun.StartStep("fetch")
	b2.WorkflowRun.Complete()

	sess.Messages = []chat.Message{u1, b1, u2, b2}
	return *sess
}

func TestStore_SaveAndGet(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			sess := sampleSession(time.Now())

			require.NoError(t, s.SaveSession(ctx, sess))

			got, err := s.GetSession(ctx, sess.ID)
			require.NoError(t, err)
			assert.Equal(t, sess.ID, got.ID)
			assert.Equal(t, "@[Alice] hello", got.Name, "unnamed sessions are titled by the first user message")
			require.Len(t, got.Messages, 4)

			for i := range sess.Messages {
				assert.Equal(t, sess.Messages[i].ID, got.Messages[i].ID, "order is preserved")
			}

			u1 := got.Messages[0]
			require.Len(t, u1.Attachments, 1)
			assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, u1.Attachments[0].Data)
			assert.Empty(t, u1.Attachments[0].PreviewID, "preview handles are not persisted")

			b1 := got.Messages[1]
			assert.False(t, b1.Streaming)
			require.Len(t, b1.Versions, 2)
			assert.Equal(t, 1, b1.ActiveVersion)
			assert.Equal(t, "first", b1.Versions[0].Text)
			assert.Equal(t, "second", b1.Text)
			assert.Equal(t, "Alice", b1.Target.Name)

			b2 := got.Messages[3]
			require.NotNil(t, b2.WorkflowRun)
			assert.Equal(t, chat.StatusCompleted, b2.WorkflowRun.Status)
			require.NoError(t, chat.ValidateSession(got.Messages))

			// The caller's copy is untouched.
			assert.Equal(t, "preview-1", sess.Messages[0].Attachments[0].PreviewID)
		})
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			sess := sampleSession(time.Now())
			require.NoError(t, s.SaveSession(ctx, sess))

			sess.Name = "Renamed"
			sess.Messages = sess.Messages[:2]
			sess.UpdatedAt = sess.UpdatedAt.Add(time.Minute)
			require.NoError(t, s.SaveSession(ctx, sess))

			got, err := s.GetSession(ctx, sess.ID)
			require.NoError(t, err)
			assert.Equal(t, "Renamed", got.Name)
			assert.Len(t, got.Messages, 2)

			list, err := s.ListSessions(ctx, 0)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, 2, list[0].MessageCount)
		})
	}
}

func TestStore_ListOrderAndLimit(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			base := time.Now().Add(-time.Hour)

			var ids []string
			for i := range 3 {
				sess := sampleSession(base.Add(time.Duration(i) * time.Minute))
				require.NoError(t, s.SaveSession(ctx, sess))
				ids = append(ids, sess.ID)
			}

			list, err := s.ListSessions(ctx, 0)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{list[0].ID, list[1].ID, list[2].ID})
			assert.Equal(t, 4, list[0].MessageCount)

			list, err = s.ListSessions(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, list, 2)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			sess := sampleSession(time.Now())
			require.NoError(t, s.SaveSession(ctx, sess))

			require.NoError(t, s.DeleteSession(ctx, sess.ID))

			_, err := s.GetSession(ctx, sess.ID)
			require.ErrorIs(t, err, ErrNotFound)
			require.ErrorIs(t, s.DeleteSession(ctx, sess.ID), ErrNotFound)

			list, err := s.ListSessions(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestStore_Errors(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			_, err := s.GetSession(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.ErrorIs(t, s.SaveSession(ctx, chat.ChatSession{}), ErrEmptySessionID)
		})
	}
}

func TestTitle(t *testing.T) {
	long := ""
	for range 70 {
		long += "x"
	}
	tests := []struct {
		name string
		sess chat.ChatSession
		want string
	}{
		{"explicit name", chat.ChatSession{Name: "Plans"}, "Plans"},
		{"first user message", chat.ChatSession{Messages: []chat.Message{
			chat.NewNotice("", "bot first"),
			chat.NewUserMessage("hi there", nil),
		}}, "hi there"},
		{"truncated", chat.ChatSession{Messages: []chat.Message{chat.NewUserMessage(long, nil)}}, long[:60] + "…"},
		{"empty", chat.ChatSession{}, "Untitled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, title(tt.sess))
		})
	}
}
