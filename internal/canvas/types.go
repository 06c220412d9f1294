// Package canvas implements the Canvas LMS gateway: credential validation,
// paginated course and assignment listing, and calendar entry creation.
package canvas

import (
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/easely-bot/internal/retry"
)

// ErrTooManyPages is returned when pagination exceeds the configured page cap.
var ErrTooManyPages = errors.New("canvas pagination exceeded page limit")

// StatusError is a non-success HTTP response from Canvas.
type StatusError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("canvas %s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// Retryable reports whether the status is transient.
func (e *StatusError) Retryable() bool {
	return retry.ClassifyStatus(e.StatusCode) == retry.ClassRetryable
}

// Profile is the authenticated Canvas user.
type Profile struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	LoginID string `json:"login_id,omitempty"`
}

// Validation is the outcome of a credential check.
type Validation struct {
	Valid   bool
	Profile *Profile
	Status  int
	Reason  string
}

// Course is an actively enrolled course.
type Course struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CourseCode string `json:"course_code"`
	Term       string `json:"-"`
}

// CalendarEvent describes a personal calendar entry to create.
type CalendarEvent struct {
	Title       string
	StartAt     time.Time
	EndAt       *time.Time
	Description string
}

// CalendarEntry is a created calendar entry.
type CalendarEntry struct {
	ID      string
	Title   string
	StartAt time.Time
	HTMLURL string
}

type apiCourse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CourseCode string `json:"course_code"`
	Term       *struct {
		Name string `json:"name"`
	} `json:"term"`
}

type apiSubmission struct {
	WorkflowState string     `json:"workflow_state"`
	SubmittedAt   *time.Time `json:"submitted_at"`
	Excused       bool       `json:"excused"`
}

type apiAssignment struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	DueAt           *time.Time     `json:"due_at"`
	PointsPossible  *float64       `json:"points_possible"`
	SubmissionTypes []string       `json:"submission_types"`
	HTMLURL         string         `json:"html_url"`
	Submission      *apiSubmission `json:"submission"`
}

// completed reports whether the caller's submission resolves the assignment.
func (a apiAssignment) completed() bool {
	s := a.Submission
	if s == nil {
		return false
	}
	if s.Excused || s.SubmittedAt != nil {
		return true
	}
	switch s.WorkflowState {
	case "submitted", "graded", "pending_review", "complete":
		return true
	default:
		return false
	}
}

type apiCalendarEvent struct {
	ID      int64     `json:"id"`
	Title   string    `json:"title"`
	StartAt time.Time `json:"start_at"`
	HTMLURL string    `json:"html_url"`
}

type calendarEventRequest struct {
	CalendarEvent calendarEventBody `json:"calendar_event"`
}

type calendarEventBody struct {
	ContextCode string `json:"context_code"`
	Title       string `json:"title"`
	StartAt     string `json:"start_at"`
	EndAt       string `json:"end_at"`
	Description string `json:"description,omitempty"`
}
