package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/model"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrAlreadyQueued    = errors.New("user is already queued")
	ErrAlreadyInSession = errors.New("user is already paired or in a session")
	ErrNotEligible      = errors.New("user is not eligible for the queue")
)

// Phase is a user's exclusive membership: at any instant a user is in
// at most one of {queue, pending match, call session}.
type Phase string

const (
	PhaseNone      Phase = "none"
	PhaseQueued    Phase = "queued"
	PhaseMatched   Phase = "matched"
	PhaseInSession Phase = "in_session"
)

// Eligibility gates queueing on profile state (contact-info
// completeness, subscription tier). Owned by the profiles domain; the
// queue only consumes the verdict.
type Eligibility interface {
	Check(ctx context.Context, userID int64) (bool, string, error)
}

// Service owns the waiting set and the membership registry. Entries
// leave the set only through TryClaimPair or Dequeue, which keeps the
// exclusivity invariant enforceable in one place.
type Service struct {
	eligibility Eligibility
	now         func() time.Time

	mu      sync.Mutex
	entries map[int64]model.QueueEntry
	phases  map[int64]Phase
}

func NewService(eligibility Eligibility) *Service {
	return &Service{
		eligibility: eligibility,
		now:         time.Now,
		entries:     make(map[int64]model.QueueEntry),
		phases:      make(map[int64]Phase),
	}
}

// SetNow overrides the clock, tests only.
func (s *Service) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) Enqueue(ctx context.Context, userID int64, prefs model.Preferences) (model.QueueEntry, error) {
	if userID <= 0 {
		return model.QueueEntry{}, ErrValidation
	}

	if s.eligibility != nil {
		eligible, _, err := s.eligibility.Check(ctx, userID)
		if err != nil {
			return model.QueueEntry{}, err
		}
		if !eligible {
			return model.QueueEntry{}, ErrNotEligible
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phases[userID] {
	case PhaseQueued:
		return model.QueueEntry{}, ErrAlreadyQueued
	case PhaseMatched, PhaseInSession:
		return model.QueueEntry{}, ErrAlreadyInSession
	}

	entry := model.QueueEntry{
		UserID:     userID,
		Prefs:      prefs,
		EnqueuedAt: s.now(),
	}
	s.entries[userID] = entry
	s.phases[userID] = PhaseQueued

	return entry, nil
}

// Dequeue removes a waiting user. Idempotent: absent users and users
// already claimed into a match are left untouched.
func (s *Service) Dequeue(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phases[userID] != PhaseQueued {
		return
	}
	delete(s.entries, userID)
	delete(s.phases, userID)
}

func (s *Service) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Service) Membership(userID int64) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	phase, ok := s.phases[userID]
	if !ok {
		return PhaseNone
	}
	return phase
}

func (s *Service) Entry(userID int64) (model.QueueEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[userID]
	return entry, ok
}

// Waiting returns a snapshot of queue entries ordered oldest first, so
// pairing scans are deterministic and starvation-resistant.
func (s *Service) Waiting() []model.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]model.QueueEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EnqueuedAt.Equal(entries[j].EnqueuedAt) {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
	})
	return entries
}

// TryClaimPair atomically removes both entries, but only if both are
// still waiting. This is the single point where queue membership
// becomes match membership, which is what makes double-pairing under
// concurrent pairing passes impossible.
func (s *Service) TryClaimPair(userA, userB int64) (model.QueueEntry, model.QueueEntry, bool) {
	if userA == userB {
		return model.QueueEntry{}, model.QueueEntry{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entryA, okA := s.entries[userA]
	entryB, okB := s.entries[userB]
	if !okA || !okB {
		return model.QueueEntry{}, model.QueueEntry{}, false
	}

	delete(s.entries, userA)
	delete(s.entries, userB)
	s.phases[userA] = PhaseMatched
	s.phases[userB] = PhaseMatched

	return entryA, entryB, true
}

// MarkInSession promotes matched users into session membership when
// the handshake succeeds.
func (s *Service) MarkInSession(userIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range userIDs {
		if s.phases[id] == PhaseMatched {
			s.phases[id] = PhaseInSession
		}
	}
}

// Release frees match or session membership so the user can enqueue
// again. Queue membership is not touched; leaving the queue goes
// through Dequeue.
func (s *Service) Release(userIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range userIDs {
		if s.phases[id] == PhaseMatched || s.phases[id] == PhaseInSession {
			delete(s.phases, id)
		}
	}
}
