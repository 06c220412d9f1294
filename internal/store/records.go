package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/easely-bot/internal/domain"
	"github.com/ashureev/easely-bot/internal/shared"
)

// CreateTask persists a manually created task. A missing ID is generated.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *domain.Task) error {
	query := `
	INSERT INTO tasks (id, user_id, title, due_at, details, remote_entry_id, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := s.now()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	err := shared.RetryOnConflict(ctx, s.backoff, "create_task", func() error {
		_, err := s.db.ExecContext(ctx, query,
			task.ID, task.UserID, task.Title, task.DueAt.Unix(),
			nullString(task.Details), nullString(task.RemoteEntryID), string(task.Status),
			task.CreatedAt.Unix(), task.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// ListTasks returns the user's tasks with the given status, ordered by due date.
func (s *SQLiteStore) ListTasks(ctx context.Context, userID string, status domain.TaskStatus) ([]domain.Task, error) {
	query := `
		SELECT id, user_id, title, due_at, details, remote_entry_id, status, created_at, updated_at
		FROM tasks WHERE user_id = ? AND status = ?
		ORDER BY due_at, id`

	rows, err := s.db.QueryContext(ctx, query, userID, string(status))
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close task rows", "error", closeErr)
		}
	}()

	var tasks []domain.Task
	for rows.Next() {
		var t domain.Task
		var details, remoteID sql.NullString
		var taskStatus string
		var dueAt, createdAt, updatedAt int64

		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Title, &dueAt, &details, &remoteID,
			&taskStatus, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}

		t.Details = details.String
		t.RemoteEntryID = remoteID.String
		t.Status = domain.TaskStatus(taskStatus)
		t.DueAt = time.Unix(dueAt, 0).UTC()
		t.CreatedAt = time.Unix(createdAt, 0)
		t.UpdatedAt = time.Unix(updatedAt, 0)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}

// AppendSyncRecord writes a sync audit entry. A missing ID is generated.
func (s *SQLiteStore) AppendSyncRecord(ctx context.Context, rec *domain.SyncRecord) error {
	query := `
	INSERT INTO sync_log (id, user_id, kind, status, items_count, error, started_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = s.now()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.CompletedAt
	}

	err := shared.RetryOnConflict(ctx, s.backoff, "append_sync_record", func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.ID, rec.UserID, string(rec.Kind), string(rec.Status), rec.ItemsCount,
			nullString(rec.Error), rec.StartedAt.UnixMilli(), rec.CompletedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append sync record: %w", err)
	}
	return nil
}

// ListSyncRecords returns the user's most recent sync records, newest first.
func (s *SQLiteStore) ListSyncRecords(ctx context.Context, userID string, limit int) ([]domain.SyncRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, user_id, kind, status, items_count, error, started_at, completed_at
		FROM sync_log WHERE user_id = ?
		ORDER BY completed_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync records: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close sync record rows", "error", closeErr)
		}
	}()

	var records []domain.SyncRecord
	for rows.Next() {
		var r domain.SyncRecord
		var kind, status string
		var errText sql.NullString
		var startedAt, completedAt int64

		if err := rows.Scan(
			&r.ID, &r.UserID, &kind, &status, &r.ItemsCount, &errText, &startedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sync record row: %w", err)
		}

		r.Kind = domain.SyncKind(kind)
		r.Status = domain.SyncStatus(status)
		r.Error = errText.String
		r.StartedAt = time.UnixMilli(startedAt)
		r.CompletedAt = time.UnixMilli(completedAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync records: %w", err)
	}

	return records, nil
}

// AppendStateChange writes a conversation state audit entry. A missing ID is generated.
func (s *SQLiteStore) AppendStateChange(ctx context.Context, change *domain.StateChange) error {
	query := `
	INSERT INTO state_log (id, user_id, previous_state, new_state, trigger_action, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = s.now()
	}

	err := shared.RetryOnConflict(ctx, s.backoff, "append_state_change", func() error {
		_, err := s.db.ExecContext(ctx, query,
			change.ID, change.UserID, change.PreviousState.String(), change.NewState.String(),
			nullString(change.Trigger), change.CreatedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append state change: %w", err)
	}
	return nil
}

// ListStateChanges returns the user's most recent state changes, newest first.
func (s *SQLiteStore) ListStateChanges(ctx context.Context, userID string, limit int) ([]domain.StateChange, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, user_id, previous_state, new_state, trigger_action, created_at
		FROM state_log WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query state changes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close state change rows", "error", closeErr)
		}
	}()

	var changes []domain.StateChange
	for rows.Next() {
		var c domain.StateChange
		var previous, next string
		var trigger sql.NullString
		var createdAt int64

		if err := rows.Scan(&c.ID, &c.UserID, &previous, &next, &trigger, &createdAt); err != nil {
			return nil, fmt.Errorf("scan state change row: %w", err)
		}

		c.PreviousState = domain.ConversationState(previous)
		c.NewState = domain.ConversationState(next)
		c.Trigger = trigger.String
		c.CreatedAt = time.UnixMilli(createdAt)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state changes: %w", err)
	}

	return changes, nil
}
