package conversation

import (
	"sync"
	"time"

	"github.com/ashureev/easely-bot/internal/domain"
)

// draftStore holds at most one in-progress task per user, in memory only.
type draftStore struct {
	mu     sync.Mutex
	drafts map[string]*domain.DraftTask
}

func newDraftStore() *draftStore {
	return &draftStore{drafts: make(map[string]*domain.DraftTask)}
}

// Start replaces any existing draft with an empty one.
func (s *draftStore) Start(userID string, now time.Time) *domain.DraftTask {
	d := &domain.DraftTask{StartedAt: now}
	s.mu.Lock()
	s.drafts[userID] = d
	s.mu.Unlock()
	return d
}

// Get returns a copy of the user's draft.
func (s *draftStore) Get(userID string) (domain.DraftTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[userID]
	if !ok {
		return domain.DraftTask{}, false
	}
	return *d, true
}

// Update applies fn to the user's draft. It reports false if there is none.
func (s *draftStore) Update(userID string, fn func(d *domain.DraftTask)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[userID]
	if !ok {
		return false
	}
	fn(d)
	return true
}

// Discard removes the user's draft.
func (s *draftStore) Discard(userID string) {
	s.mu.Lock()
	delete(s.drafts, userID)
	s.mu.Unlock()
}

// Prune removes drafts started before cutoff.
func (s *draftStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, d := range s.drafts {
		if d.StartedAt.Before(cutoff) {
			delete(s.drafts, id)
			n++
		}
	}
	return n
}

// Len returns the number of drafts held.
func (s *draftStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts)
}
