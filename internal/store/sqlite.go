package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/meshchat/internal/domain"
	"github.com/ashureev/meshchat/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	convMu sync.Mutex // serializes conversation writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS browser_sessions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_browser_sessions_last_seen ON browser_sessions(last_seen_at);

	CREATE TABLE IF NOT EXISTS conversations (
		session_key TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		messages_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_key, conversation_id)
	);

	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT NOT NULL,
		pref_key TEXT NOT NULL,
		pref_value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, pref_key)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// UpsertBrowserSession creates a browser session or refreshes its last_seen_at.
func (s *SQLiteStore) UpsertBrowserSession(ctx context.Context, session *domain.BrowserSession) error {
	query := `
	INSERT INTO browser_sessions (user_id, session_id, last_seen_at, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id, session_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at`

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = session.LastSeenAt
	}
	_, err := s.db.ExecContext(ctx, query,
		session.UserID, session.SessionID,
		session.LastSeenAt.Unix(), createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert browser session: %w", err)
	}
	return nil
}

// GetExpiredBrowserSessions returns sessions idle for longer than ttl.
func (s *SQLiteStore) GetExpiredBrowserSessions(ctx context.Context, ttl time.Duration) ([]*domain.BrowserSession, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT user_id, session_id, last_seen_at, created_at
		FROM browser_sessions WHERE last_seen_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var sessions []*domain.BrowserSession
	for rows.Next() {
		var sess domain.BrowserSession
		var lastSeen, createdAt int64
		if err := rows.Scan(&sess.UserID, &sess.SessionID, &lastSeen, &createdAt); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		sess.LastSeenAt = time.Unix(lastSeen, 0)
		sess.CreatedAt = time.Unix(createdAt, 0)
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return sessions, nil
}

// DeleteBrowserSession removes a session and every conversation stored for it.
func (s *SQLiteStore) DeleteBrowserSession(ctx context.Context, userID, sessionID string) error {
	return shared.RetrySQLite(ctx, "delete browser session", 0, 100*time.Millisecond, func() error {
		return s.deleteBrowserSessionOnce(ctx, userID, sessionID)
	})
}

func (s *SQLiteStore) deleteBrowserSessionOnce(ctx context.Context, userID, sessionID string) error {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE session_key = ?`, domain.SessionKey(userID, sessionID)); err != nil {
		return fmt.Errorf("delete session conversations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM browser_sessions WHERE user_id = ? AND session_id = ?`, userID, sessionID); err != nil {
		return fmt.Errorf("delete browser session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}

// SaveConversation creates or replaces one conversation snapshot.
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *domain.StoredConversation) error {
	query := `
		INSERT INTO conversations (session_key, conversation_id, messages_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_key, conversation_id) DO UPDATE SET
			messages_json = excluded.messages_json,
			updated_at = excluded.updated_at`

	now := time.Now()
	createdAt := conv.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return shared.RetrySQLite(ctx, "save conversation", 0, 0, func() error {
		s.convMu.Lock()
		defer s.convMu.Unlock()
		if _, err := s.db.ExecContext(ctx, query,
			conv.SessionKey, conv.ConversationID, conv.MessagesJSON,
			createdAt.Unix(), now.Unix(),
		); err != nil {
			return fmt.Errorf("save conversation: %w", err)
		}
		return nil
	})
}

// GetConversation returns one snapshot, or nil when none is stored.
func (s *SQLiteStore) GetConversation(ctx context.Context, sessionKey, conversationID string) (*domain.StoredConversation, error) {
	query := `
		SELECT session_key, conversation_id, messages_json, created_at, updated_at
		FROM conversations WHERE session_key = ? AND conversation_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionKey, conversationID)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return conv, nil
}

// GetConversations returns the stored snapshots among conversationIDs.
func (s *SQLiteStore) GetConversations(ctx context.Context, sessionKey string, conversationIDs []string) ([]*domain.StoredConversation, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}

	placeholders, args := inClause(sessionKey, conversationIDs)
	query := `
		SELECT session_key, conversation_id, messages_json, created_at, updated_at
		FROM conversations WHERE session_key = ? AND conversation_id IN (` + placeholders + `)
		ORDER BY created_at, conversation_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	var out []*domain.StoredConversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

// DeleteConversations removes snapshots by id.
func (s *SQLiteStore) DeleteConversations(ctx context.Context, sessionKey string, conversationIDs []string) (int64, error) {
	if len(conversationIDs) == 0 {
		return 0, nil
	}
	placeholders, args := inClause(sessionKey, conversationIDs)
	query := `DELETE FROM conversations WHERE session_key = ? AND conversation_id IN (` + placeholders + `)`

	var deleted int64
	err := shared.RetrySQLite(ctx, "delete conversations", 0, 0, func() error {
		s.convMu.Lock()
		defer s.convMu.Unlock()
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete conversations: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// DeleteSessionConversations removes every snapshot of a session.
func (s *SQLiteStore) DeleteSessionConversations(ctx context.Context, sessionKey string) (int64, error) {
	var deleted int64
	err := shared.RetrySQLite(ctx, "delete session conversations", 0, 0, func() error {
		s.convMu.Lock()
		defer s.convMu.Unlock()
		result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE session_key = ?`, sessionKey)
		if err != nil {
			return fmt.Errorf("delete session conversations: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// GetPreference reads a per-user preference.
func (s *SQLiteStore) GetPreference(ctx context.Context, userID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT pref_value FROM preferences WHERE user_id = ? AND pref_key = ?`, userID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference: %w", err)
	}
	return value, true, nil
}

// SetPreference writes a per-user preference.
func (s *SQLiteStore) SetPreference(ctx context.Context, userID, key, value string) error {
	query := `
		INSERT INTO preferences (user_id, pref_key, pref_value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, pref_key) DO UPDATE SET
			pref_value = excluded.pref_value,
			updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, userID, key, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.StoredConversation, error) {
	var conv domain.StoredConversation
	var createdAt, updatedAt int64
	if err := row.Scan(&conv.SessionKey, &conv.ConversationID, &conv.MessagesJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)
	return &conv, nil
}

func inClause(sessionKey string, ids []string) (string, []any) {
	args := make([]any, 0, len(ids)+1)
	args = append(args, sessionKey)
	for _, id := range ids {
		args = append(args, id)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
