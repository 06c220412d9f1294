// Package domain contains core domain types for the Easely assistant.
package domain

import (
	"time"
)

// User represents one end user of a messaging channel.
type User struct {
	UserID              string     `json:"user_id"`
	CanvasToken         string     `json:"-"`
	CanvasUserID        int64      `json:"canvas_user_id,omitempty"`
	CanvasName          string     `json:"canvas_name,omitempty"`
	OnboardingCompleted bool       `json:"onboarding_completed"`
	LastCanvasSync      *time.Time `json:"last_canvas_sync,omitempty"`
	Timezone            string     `json:"timezone"`
	FirstMessage        string     `json:"-"`
	LastSeenAt          time.Time  `json:"last_seen_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// HasToken returns true if an LMS credential has been captured.
func (u *User) HasToken() bool {
	return u != nil && u.CanvasToken != ""
}

// IsNew reports whether the user still needs onboarding.
// A missing record counts as new.
func (u *User) IsNew() bool {
	if u == nil {
		return true
	}
	return !u.OnboardingCompleted && !u.HasToken()
}

// UserUpdate carries the fields to change on a user record.
// Nil fields are left untouched.
type UserUpdate struct {
	CanvasToken         *string
	CanvasUserID        *int64
	CanvasName          *string
	OnboardingCompleted *bool
	LastCanvasSync      *time.Time
	Timezone            *string
}

// IsEmpty returns true if the update changes nothing.
func (u UserUpdate) IsEmpty() bool {
	return u.CanvasToken == nil && u.CanvasUserID == nil && u.CanvasName == nil &&
		u.OnboardingCompleted == nil && u.LastCanvasSync == nil && u.Timezone == nil
}
