package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/easely-bot/internal/domain"
	"github.com/ashureev/easely-bot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	backoff shared.ConflictBackoff
	now     func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, backoff: shared.DefaultConflictBackoff, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		canvas_token TEXT,
		canvas_user_id INTEGER,
		canvas_name TEXT,
		onboarding_completed INTEGER NOT NULL DEFAULT 0,
		timezone TEXT NOT NULL,
		first_message TEXT,
		last_canvas_sync INTEGER,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_sessions (
		user_id TEXT NOT NULL,
		session_key TEXT NOT NULL,
		session_value TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_key)
	);
	CREATE INDEX IF NOT EXISTS idx_user_sessions_expires ON user_sessions(expires_at);

	CREATE TABLE IF NOT EXISTS assignments (
		user_id TEXT NOT NULL,
		assignment_id TEXT NOT NULL,
		title TEXT NOT NULL,
		course_name TEXT,
		course_code TEXT,
		due_at INTEGER,
		description TEXT,
		points_possible REAL,
		submission_types TEXT,
		html_url TEXT,
		completed INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, assignment_id)
	);
	CREATE INDEX IF NOT EXISTS idx_assignments_user_due ON assignments(user_id, due_at);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		due_at INTEGER NOT NULL,
		details TEXT,
		remote_entry_id TEXT,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_due ON tasks(user_id, status, due_at);

	CREATE TABLE IF NOT EXISTS sync_log (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		items_count INTEGER NOT NULL,
		error TEXT,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sync_log_user ON sync_log(user_id, completed_at);

	CREATE TABLE IF NOT EXISTS state_log (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		previous_state TEXT NOT NULL,
		new_state TEXT NOT NULL,
		trigger_action TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_state_log_user ON state_log(user_id, created_at);
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

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, canvas_token, canvas_user_id, canvas_name,
		       onboarding_completed, timezone, first_message, last_canvas_sync,
		       last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var token, name, firstMessage sql.NullString
	var canvasUserID, lastSync sql.NullInt64
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &token, &canvasUserID, &name,
		&user.OnboardingCompleted, &user.Timezone, &firstMessage, &lastSync,
		&lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.CanvasToken = token.String
	user.CanvasUserID = canvasUserID.Int64
	user.CanvasName = name.String
	user.FirstMessage = firstMessage.String
	if lastSync.Valid {
		ts := time.Unix(lastSync.Int64, 0)
		user.LastCanvasSync = &ts
	}
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// CreateUser inserts a user record if one does not already exist.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, canvas_token, canvas_user_id, canvas_name,
		onboarding_completed, timezone, first_message, last_canvas_sync,
		last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO NOTHING`

	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	if user.LastSeenAt.IsZero() {
		user.LastSeenAt = now
	}

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, nullString(user.CanvasToken), nullInt64(user.CanvasUserID), nullString(user.CanvasName),
		user.OnboardingCompleted, user.Timezone, nullString(user.FirstMessage), nullTime(user.LastCanvasSync),
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateUser applies the non-nil fields of update.
func (s *SQLiteStore) UpdateUser(ctx context.Context, userID string, update domain.UserUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	query := `UPDATE users SET updated_at = ?`
	args := []any{s.now().Unix()}

	if update.CanvasToken != nil {
		query += `, canvas_token = ?`
		args = append(args, nullString(*update.CanvasToken))
	}
	if update.CanvasUserID != nil {
		query += `, canvas_user_id = ?`
		args = append(args, *update.CanvasUserID)
	}
	if update.CanvasName != nil {
		query += `, canvas_name = ?`
		args = append(args, *update.CanvasName)
	}
	if update.OnboardingCompleted != nil {
		query += `, onboarding_completed = ?`
		args = append(args, *update.OnboardingCompleted)
	}
	if update.LastCanvasSync != nil {
		query += `, last_canvas_sync = ?`
		args = append(args, update.LastCanvasSync.Unix())
	}
	if update.Timezone != nil {
		query += `, timezone = ?`
		args = append(args, *update.Timezone)
	}
	query += ` WHERE user_id = ?`
	args = append(args, userID)

	var result sql.Result
	err := shared.RetryOnConflict(ctx, s.backoff, "update_user", func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), s.now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// GetSession returns the value stored under key, ignoring expired rows.
func (s *SQLiteStore) GetSession(ctx context.Context, userID, key string) (string, bool, error) {
	query := `
		SELECT session_value FROM user_sessions
		WHERE user_id = ? AND session_key = ? AND expires_at > ?`

	var value string
	err := s.db.QueryRowContext(ctx, query, userID, key, s.now().Unix()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get session: %w", err)
	}
	return value, true, nil
}

// SetSession stores value under key with the given TTL.
func (s *SQLiteStore) SetSession(ctx context.Context, userID, key, value string, ttl time.Duration) error {
	query := `
	INSERT INTO user_sessions (user_id, session_key, session_value, expires_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id, session_key) DO UPDATE SET
		session_value = excluded.session_value,
		expires_at = excluded.expires_at,
		updated_at = excluded.updated_at`

	now := s.now()
	err := shared.RetryOnConflict(ctx, s.backoff, "set_session", func() error {
		_, err := s.db.ExecContext(ctx, query, userID, key, value, now.Add(ttl).Unix(), now.Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

// ClearSession removes the value stored under key.
func (s *SQLiteStore) ClearSession(ctx context.Context, userID, key string) error {
	query := `DELETE FROM user_sessions WHERE user_id = ? AND session_key = ?`
	err := shared.RetryOnConflict(ctx, s.backoff, "clear_session", func() error {
		_, err := s.db.ExecContext(ctx, query, userID, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes expired session rows.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	query := `DELETE FROM user_sessions WHERE expires_at <= ?`
	result, err := s.db.ExecContext(ctx, query, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Unix()
}
