// Package syncer decides whether to serve a user's assignments from the local
// cache or refetch them from Canvas, and records the outcome of every fetch.
package syncer

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/easely-bot/internal/domain"
)

// EmptyResultNote is the audit note written when Canvas answers with nothing.
const EmptyResultNote = "No assignments returned from Canvas API"

// Source says where a Result's assignments came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Gateway fetches assignments from the LMS.
type Gateway interface {
	ListAssignments(ctx context.Context, token string) ([]domain.Assignment, error)
}

// Store is the persistence the engine needs.
type Store interface {
	HasAssignments(ctx context.Context, userID string) (bool, error)
	ListAssignments(ctx context.Context, userID string) ([]domain.Assignment, error)
	ReplaceAssignments(ctx context.Context, userID string, items []domain.Assignment) error
	AppendSyncRecord(ctx context.Context, rec *domain.SyncRecord) error
	UpdateUser(ctx context.Context, userID string, update domain.UserUpdate) error
}

// Result is the outcome of GetAssignments. Err carries the remote failure
// that caused a fallback, if any; callers still use Assignments.
type Result struct {
	Assignments []domain.Assignment
	Source      Source
	Err         error
}

// Engine reconciles the assignment cache with Canvas.
type Engine struct {
	gateway Gateway
	store   Store
	logger  *slog.Logger
	now     func() time.Time
	group   singleflight.Group
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a sync engine. A nil logger uses slog.Default().
func New(gateway Gateway, store Store, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		gateway: gateway,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetAssignments returns the user's assignments. Without force, a non-empty
// cache is returned as-is and Canvas is not contacted. Otherwise Canvas is
// queried; on an empty result or an error the current cache is returned.
func (e *Engine) GetAssignments(ctx context.Context, userID, token string, force bool) Result {
	if !force && e.hasCache(ctx, userID) {
		items, err := e.store.ListAssignments(ctx, userID)
		if err == nil {
			return Result{Assignments: items, Source: SourceCache}
		}
		e.logger.Warn("Failed to read assignment cache", "user_id", userID, "error", err)
	}

	v, _, _ := e.group.Do(userID, func() (any, error) {
		return e.refresh(ctx, userID, token), nil
	})
	return v.(Result)
}

func (e *Engine) refresh(ctx context.Context, userID, token string) Result {
	started := e.now()
	items, err := e.gateway.ListAssignments(ctx, token)

	switch {
	case err != nil:
		e.logger.Warn("Canvas fetch failed, falling back to cache", "user_id", userID, "error", err)
		e.audit(ctx, userID, started, domain.SyncStatusFailed, 0, err.Error())
		return e.fallback(ctx, userID, err)

	case len(items) == 0:
		e.logger.Info("Canvas returned no assignments", "user_id", userID)
		e.audit(ctx, userID, started, domain.SyncStatusFailed, 0, EmptyResultNote)
		return e.fallback(ctx, userID, nil)
	}

	if err := e.store.ReplaceAssignments(ctx, userID, items); err != nil {
		e.logger.Error("Failed to cache assignments", "user_id", userID, "error", err)
	}
	e.audit(ctx, userID, started, domain.SyncStatusSuccess, len(items), "")

	syncedAt := e.now()
	if err := e.store.UpdateUser(ctx, userID, domain.UserUpdate{LastCanvasSync: &syncedAt}); err != nil {
		e.logger.Warn("Failed to record sync time", "user_id", userID, "error", err)
	}

	e.logger.Info("Assignments synchronized", "user_id", userID, "count", len(items))
	return Result{Assignments: items, Source: SourceRemote}
}

func (e *Engine) fallback(ctx context.Context, userID string, cause error) Result {
	items, err := e.store.ListAssignments(ctx, userID)
	if err != nil {
		e.logger.Warn("Failed to read assignment cache", "user_id", userID, "error", err)
		items = nil
	}
	return Result{Assignments: items, Source: SourceFallback, Err: cause}
}

func (e *Engine) hasCache(ctx context.Context, userID string) bool {
	has, err := e.store.HasAssignments(ctx, userID)
	if err != nil {
		e.logger.Warn("Failed to check assignment cache", "user_id", userID, "error", err)
		return false
	}
	return has
}

func (e *Engine) audit(ctx context.Context, userID string, started time.Time, status domain.SyncStatus, count int, note string) {
	rec := &domain.SyncRecord{
		UserID:      userID,
		Kind:        domain.SyncKindFull,
		Status:      status,
		ItemsCount:  count,
		Error:       note,
		StartedAt:   started,
		CompletedAt: e.now(),
	}
	if err := e.store.AppendSyncRecord(ctx, rec); err != nil {
		e.logger.Warn("Failed to write sync record", "user_id", userID, "error", err)
	}
}
