// ABOUTME: SQLite implementation of the session archive using modernc.org/sqlite
// ABOUTME: Stores sessions and their messages with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-chat/internal/chat"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_updated
			ON sessions(updated_at);

		CREATE TABLE IF NOT EXISTS session_messages (
			session_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			id TEXT NOT NULL,
			role TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (session_id, position),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('sessions') WHERE name = 'message_count'`,
			apply:  `ALTER TABLE sessions ADD COLUMN message_count INTEGER NOT NULL DEFAULT 0`,
			column: "message_count",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking column %s: %w", m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding column %s: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column)
	}
	return nil
}

// SaveSession writes sess and all of its messages in one transaction.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess chat.ChatSession) error {
	if sess.ID == "" {
		return ErrEmptySessionID
	}
	sess = archived(sess)
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, name, created_at, updated_at, message_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at,
			message_count = excluded.message_count
	`,
		sess.ID,
		title(sess),
		sess.CreatedAt.UTC().Format(timeFormat),
		sess.UpdatedAt.UTC().Format(timeFormat),
		len(sess.Messages),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO session_messages (session_id, position, id, role, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range sess.Messages {
		body, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encoding message %s: %w", m.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, sess.ID, i, m.ID, string(m.Role), string(body), m.CreatedAt.UTC().Format(timeFormat)); err != nil {
			return fmt.Errorf("saving message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session: %w", err)
	}

	s.logger.Debug("session saved", "session_id", sess.ID, "messages", len(sess.Messages))
	return nil
}

// GetSession loads a session and its messages.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (chat.ChatSession, error) {
	var sess chat.ChatSession
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`, id).Scan(&sess.ID, &sess.Name, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.ChatSession{}, ErrNotFound
	}
	if err != nil {
		return chat.ChatSession{}, fmt.Errorf("querying session: %w", err)
	}

	if sess.CreatedAt, err = time.Parse(timeFormat, createdAtStr); err != nil {
		return chat.ChatSession{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = time.Parse(timeFormat, updatedAtStr); err != nil {
		return chat.ChatSession{}, fmt.Errorf("parsing updated_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT body
		FROM session_messages
		WHERE session_id = ?
		ORDER BY position ASC
	`, id)
	if err != nil {
		return chat.ChatSession{}, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return chat.ChatSession{}, fmt.Errorf("scanning message: %w", err)
		}
		var m chat.Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return chat.ChatSession{}, fmt.Errorf("decoding message: %w", err)
		}
		sess.Messages = append(sess.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return chat.ChatSession{}, fmt.Errorf("iterating messages: %w", err)
	}

	return sess, nil
}

// ListSessions returns session summaries, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, message_count, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC, id ASC
		LIMIT ?
	`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var createdAtStr, updatedAtStr string
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.MessageCount, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if sum.CreatedAt, err = time.Parse(timeFormat, createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if sum.UpdatedAt, err = time.Parse(timeFormat, updatedAtStr); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return out, nil
}

// DeleteSession removes a session and, by cascade, its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Debug("session deleted", "session_id", id)
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
