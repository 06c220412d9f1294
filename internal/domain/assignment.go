package domain

import (
	"sort"
	"time"
)

// Source identifies where an assignment-shaped item came from.
type Source string

const (
	SourceCanvas Source = "canvas"
	SourceManual Source = "manual"
)

// Assignment is a normalized LMS assignment.
// Items without a due date never appear in a bucketed view.
type Assignment struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	CourseName      string     `json:"course_name,omitempty"`
	CourseCode      string     `json:"course_code,omitempty"`
	DueAt           *time.Time `json:"due_at,omitempty"`
	Description     string     `json:"description,omitempty"`
	PointsPossible  *float64   `json:"points_possible,omitempty"`
	SubmissionTypes []string   `json:"submission_types,omitempty"`
	HTMLURL         string     `json:"html_url,omitempty"`
	Completed       bool       `json:"completed"`
	Source          Source     `json:"source"`
}

// HasDueDate returns true if the assignment carries a due timestamp.
func (a Assignment) HasDueDate() bool {
	return a.DueAt != nil && !a.DueAt.IsZero()
}

// IsActive returns true if the assignment belongs in a date-bucketed view.
func (a Assignment) IsActive() bool {
	return a.HasDueDate() && !a.Completed
}

// SortByDue stable-sorts items by due date ascending, undated items last.
func SortByDue(items []Assignment) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch {
		case !a.HasDueDate():
			return false
		case !b.HasDueDate():
			return true
		default:
			return a.DueAt.Before(*b.DueAt)
		}
	})
}
