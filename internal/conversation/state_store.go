package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/easely-bot/internal/domain"
)

// SessionStore persists per-user session slots with expiry.
type SessionStore interface {
	GetSession(ctx context.Context, userID, key string) (string, bool, error)
	SetSession(ctx context.Context, userID, key, value string, ttl time.Duration) error
	ClearSession(ctx context.Context, userID, key string) error
}

// StateAuditor records successful state changes.
type StateAuditor interface {
	AppendStateChange(ctx context.Context, change *domain.StateChange) error
}

type cachedState struct {
	state   domain.ConversationState
	expires time.Time
}

// stateStore is a write-through cache over the persisted conversation slot.
// The persisted slot is authoritative: the cache is only filled by a
// successful write and entries expire with the slot's TTL. Misses read
// through to the store without populating the cache.
type stateStore struct {
	sessions SessionStore
	audit    StateAuditor
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedState
}

func newStateStore(sessions SessionStore, audit StateAuditor, ttl time.Duration, now func() time.Time, logger *slog.Logger) *stateStore {
	return &stateStore{
		sessions: sessions,
		audit:    audit,
		ttl:      ttl,
		now:      now,
		logger:   logger,
		cache:    make(map[string]cachedState),
	}
}

// Get returns the user's state. Read failures and unknown tags yield StateNone.
func (s *stateStore) Get(ctx context.Context, userID string) domain.ConversationState {
	now := s.now()

	s.mu.Lock()
	c, ok := s.cache[userID]
	s.mu.Unlock()
	if ok && now.Before(c.expires) {
		return c.state
	}

	raw, found, err := s.sessions.GetSession(ctx, userID, domain.SessionKeyConversationState)
	if err != nil {
		s.logger.Warn("Failed to read conversation state", "user_id", userID, "error", err)
		return domain.StateNone
	}
	if !found {
		s.forget(userID)
		return domain.StateNone
	}

	state, err := domain.ParseConversationState(raw)
	if err != nil {
		s.logger.Warn("Discarding unknown conversation state", "user_id", userID, "state", raw)
		return domain.StateNone
	}
	return state
}

// Transition moves the user from one state to another. Terminal states are
// recorded in the log and then cleared.
func (s *stateStore) Transition(ctx context.Context, userID string, from, to domain.ConversationState, trigger string) error {
	if err := from.ValidateTransition(to); err != nil {
		return err
	}

	s.logger.Info("Conversation state changed",
		"user_id", userID,
		"previous_state", from,
		"new_state", to,
		"trigger", trigger)

	if to == domain.StateNone || to.IsTerminal() {
		if err := s.Clear(ctx, userID); err != nil {
			return err
		}
		s.record(ctx, userID, from, to, trigger)
		return nil
	}

	if err := s.sessions.SetSession(ctx, userID, domain.SessionKeyConversationState, to.String(), s.ttl); err != nil {
		return fmt.Errorf("persist conversation state: %w", err)
	}

	s.mu.Lock()
	s.cache[userID] = cachedState{state: to, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()

	s.record(ctx, userID, from, to, trigger)
	return nil
}

// record writes the audit row. Failures are logged and never reach the caller.
func (s *stateStore) record(ctx context.Context, userID string, from, to domain.ConversationState, trigger string) {
	if s.audit == nil {
		return
	}
	change := &domain.StateChange{
		UserID:        userID,
		PreviousState: from,
		NewState:      to,
		Trigger:       trigger,
		CreatedAt:     s.now(),
	}
	if err := s.audit.AppendStateChange(ctx, change); err != nil {
		s.logger.Warn("Failed to record state change", "user_id", userID, "new_state", to, "error", err)
	}
}

// Clear resets the user's slot to StateNone.
func (s *stateStore) Clear(ctx context.Context, userID string) error {
	if err := s.sessions.ClearSession(ctx, userID, domain.SessionKeyConversationState); err != nil {
		return fmt.Errorf("clear conversation state: %w", err)
	}
	s.forget(userID)
	return nil
}

// Prune drops expired cache entries.
func (s *stateStore) Prune() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, c := range s.cache {
		if !now.Before(c.expires) {
			delete(s.cache, id)
			n++
		}
	}
	return n
}

func (s *stateStore) forget(userID string) {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()
}
