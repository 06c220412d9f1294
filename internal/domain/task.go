package domain

import (
	"time"
)

// TaskStatus is the lifecycle status of a manual task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
)

// Task is a manually created item sharing the display shape of Assignment.
type Task struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Title         string     `json:"title"`
	DueAt         time.Time  `json:"due_at"`
	Details       string     `json:"details,omitempty"`
	RemoteEntryID string     `json:"remote_entry_id,omitempty"`
	Status        TaskStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AsAssignment converts the task into the shared display shape.
func (t Task) AsAssignment() Assignment {
	due := t.DueAt
	return Assignment{
		ID:          "task-" + t.ID,
		Title:       t.Title,
		DueAt:       &due,
		Description: t.Details,
		Completed:   t.Status == TaskStatusCompleted,
		Source:      SourceManual,
	}
}

// DraftTask accumulates task fields across a multi-turn dialog.
// It lives in memory only and is discarded once the task is saved.
type DraftTask struct {
	Title     string
	Date      time.Time // local calendar date, time of day ignored
	HasDate   bool
	Hour      int
	Minute    int
	HasTime   bool
	Details   string
	StartedAt time.Time
}

// DueAt combines the draft's date and time in loc.
func (d *DraftTask) DueAt(loc *time.Location) time.Time {
	y, m, day := d.Date.Date()
	return time.Date(y, m, day, d.Hour, d.Minute, 0, 0, loc)
}
