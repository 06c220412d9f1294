// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/easely-bot/internal/domain"
)

// ErrNotFound is returned by writes that target a missing row.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for persisting users, conversation
// sessions, cached assignments, manual tasks, and sync and state audit records.
// Read paths return nil, nil for absent rows.
type Repository interface {
	// GetUser retrieves a user by their channel identity.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// CreateUser inserts a user if absent. An existing record is left untouched.
	CreateUser(ctx context.Context, user *domain.User) error

	// UpdateUser applies the non-nil fields of update.
	UpdateUser(ctx context.Context, userID string, update domain.UserUpdate) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetSession returns a session value. Expired entries read as absent.
	GetSession(ctx context.Context, userID, key string) (string, bool, error)

	// SetSession stores a session value that expires after ttl.
	SetSession(ctx context.Context, userID, key, value string, ttl time.Duration) error

	// ClearSession removes a session value.
	ClearSession(ctx context.Context, userID, key string) error

	// CleanupExpiredSessions removes expired session rows.
	CleanupExpiredSessions(ctx context.Context) (int64, error)

	// HasAssignments reports whether any assignments are cached for the user.
	HasAssignments(ctx context.Context, userID string) (bool, error)

	// ListAssignments returns cached assignments ordered by due date, undated last.
	ListAssignments(ctx context.Context, userID string) ([]domain.Assignment, error)

	// ReplaceAssignments atomically replaces the user's cached assignments.
	ReplaceAssignments(ctx context.Context, userID string, items []domain.Assignment) error

	// CreateTask persists a manually created task.
	CreateTask(ctx context.Context, task *domain.Task) error

	// ListTasks returns the user's tasks with the given status, ordered by due date.
	ListTasks(ctx context.Context, userID string, status domain.TaskStatus) ([]domain.Task, error)

	// AppendSyncRecord writes a sync audit entry.
	AppendSyncRecord(ctx context.Context, rec *domain.SyncRecord) error

	// ListSyncRecords returns the user's most recent sync records, newest first.
	ListSyncRecords(ctx context.Context, userID string, limit int) ([]domain.SyncRecord, error)

	// AppendStateChange writes a conversation state audit entry.
	AppendStateChange(ctx context.Context, change *domain.StateChange) error

	// ListStateChanges returns the user's most recent state changes, newest first.
	ListStateChanges(ctx context.Context, userID string, limit int) ([]domain.StateChange, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
