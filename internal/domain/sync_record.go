package domain

import (
	"time"
)

// SyncKind distinguishes full and incremental synchronizations.
type SyncKind string

const (
	SyncKindFull        SyncKind = "full"
	SyncKindIncremental SyncKind = "incremental"
)

// SyncStatus is the outcome of a synchronization.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncRecord is an audit entry written after every remote fetch.
type SyncRecord struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Kind        SyncKind   `json:"kind"`
	Status      SyncStatus `json:"status"`
	ItemsCount  int        `json:"items_count"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
}

// Duration returns how long the sync took.
func (r SyncRecord) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
