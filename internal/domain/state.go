package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrIllegalTransition is returned when a state change is not in the transition table.
var ErrIllegalTransition = errors.New("illegal conversation state transition")

// ConversationState is the tag stored in a user's conversation slot.
type ConversationState string

const (
	StateNone                 ConversationState = "none"
	StatePrivacyAgreed        ConversationState = "privacy_agreed"
	StateTermsAgreed          ConversationState = "terms_agreed"
	StateOnboardingComplete   ConversationState = "onboarding_complete"
	StateWaitingForToken      ConversationState = "waiting_for_token"
	StateTokenVerified        ConversationState = "token_verified"
	StateWaitingForTaskTitle  ConversationState = "waiting_for_task_title"
	StateWaitingForCustomDate ConversationState = "waiting_for_custom_date"
	StateWaitingForCustomTime ConversationState = "waiting_for_custom_time"
)

// SessionKeyConversationState is the session slot key holding the state tag.
const SessionKeyConversationState = "conversation_state"

var allStates = []ConversationState{
	StateNone,
	StatePrivacyAgreed,
	StateTermsAgreed,
	StateOnboardingComplete,
	StateWaitingForToken,
	StateTokenVerified,
	StateWaitingForTaskTitle,
	StateWaitingForCustomDate,
	StateWaitingForCustomTime,
}

// transitions lists, per state, every state it may move to.
// Entering the token or task dialogs is allowed from anywhere; consent steps
// only advance from their predecessor.
var transitions = map[ConversationState][]ConversationState{
	StateNone: {
		StatePrivacyAgreed, StateWaitingForToken, StateWaitingForTaskTitle,
		StateWaitingForCustomDate, StateWaitingForCustomTime,
	},
	StatePrivacyAgreed: {
		StateNone, StatePrivacyAgreed, StateTermsAgreed,
		StateWaitingForToken, StateWaitingForTaskTitle,
	},
	StateTermsAgreed: {
		StateNone, StatePrivacyAgreed, StateTermsAgreed, StateOnboardingComplete,
		StateWaitingForToken, StateWaitingForTaskTitle,
	},
	StateOnboardingComplete: {
		StateNone, StatePrivacyAgreed, StateWaitingForToken, StateWaitingForTaskTitle,
	},
	StateWaitingForToken: {
		StateNone, StateWaitingForToken, StateTokenVerified, StateWaitingForTaskTitle,
	},
	StateTokenVerified: {
		StateNone, StatePrivacyAgreed, StateWaitingForToken, StateWaitingForTaskTitle,
	},
	StateWaitingForTaskTitle: {
		StateNone, StateWaitingForTaskTitle, StateWaitingForToken,
	},
	StateWaitingForCustomDate: {
		StateNone, StateWaitingForCustomDate, StateWaitingForCustomTime,
		StateWaitingForTaskTitle, StateWaitingForToken,
	},
	StateWaitingForCustomTime: {
		StateNone, StateWaitingForCustomTime, StateWaitingForCustomDate,
		StateWaitingForTaskTitle, StateWaitingForToken,
	},
}

// ParseConversationState converts a stored tag into a ConversationState.
// The empty string maps to StateNone.
func ParseConversationState(s string) (ConversationState, error) {
	if s == "" {
		return StateNone, nil
	}
	for _, st := range allStates {
		if string(st) == s {
			return st, nil
		}
	}
	return StateNone, fmt.Errorf("unknown conversation state %q", s)
}

// String returns the stored tag.
func (s ConversationState) String() string {
	return string(s)
}

// IsSubDialog returns true for states that capture the next free-text message.
func (s ConversationState) IsSubDialog() bool {
	switch s {
	case StateWaitingForToken, StateWaitingForTaskTitle, StateWaitingForCustomDate, StateWaitingForCustomTime:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for states that are recorded and then cleared.
func (s ConversationState) IsTerminal() bool {
	return s == StateTokenVerified
}

// CanTransitionTo reports whether next is reachable from s.
func (s ConversationState) CanTransitionTo(next ConversationState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrIllegalTransition if next is not reachable from s.
func (s ConversationState) ValidateTransition(next ConversationState) error {
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
	}
	return nil
}

// StateChange is an audit entry written after every successful transition.
type StateChange struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	PreviousState ConversationState `json:"previous_state"`
	NewState      ConversationState `json:"new_state"`
	Trigger       string            `json:"trigger"`
	CreatedAt     time.Time         `json:"created_at"`
}
