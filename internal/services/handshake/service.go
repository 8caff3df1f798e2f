package handshake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/enums"
	"github.com/ivankudzin/sparkcall/backend/internal/domain/model"
	"github.com/ivankudzin/sparkcall/backend/internal/services/events"
	"github.com/ivankudzin/sparkcall/backend/internal/services/gate"
)

var (
	ErrValidation     = errors.New("validation error")
	ErrMatchNotFound  = errors.New("match not found")
	ErrNotParticipant = errors.New("user is not a match participant")
)

type Config struct {
	HandshakeTTL    time.Duration
	DeclineCooldown time.Duration
}

// SessionStarter turns a fully-accepted match into a live call. The
// session service implements it.
type SessionStarter interface {
	Start(ctx context.Context, match model.PendingMatch) (model.CallSession, error)
}

// Membership frees users back to the idle phase when a handshake dies.
type Membership interface {
	Release(userIDs ...int64)
}

type CooldownStore interface {
	SetPairCooldown(ctx context.Context, a, b int64, ttl time.Duration) error
}

type Archive interface {
	SaveMatchOutcome(ctx context.Context, match model.PendingMatch, resolution enums.Resolution, at time.Time) error
}

type Snapshot struct {
	Match    model.PendingMatch
	Decision gate.Snapshot
}

type pendingState struct {
	match model.PendingMatch
	g     *gate.Gate

	// resolvedAt is set once, under the service mutex, when the gate
	// resolves. The match then lingers so a retried vote lands on the
	// resolved gate as a no-op instead of a not-found error.
	resolvedAt time.Time
}

// resolvedRetention keeps resolved matches queryable long enough for a
// client retry to be acknowledged before the sweeper evicts them.
const resolvedRetention = time.Minute

// Service holds every proposed-but-unconfirmed match. Each match gets
// a decision gate with the handshake ttl; mutual accept starts a
// session, anything else dissolves the match and re-opens the pair
// for queueing, with a cooldown only when someone explicitly said no.
type Service struct {
	cfg        Config
	sessions   SessionStarter
	membership Membership
	cooldowns  CooldownStore
	archive    Archive
	publisher  events.Publisher
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.RWMutex
	matches map[string]*pendingState
	byUser  map[int64]string
}

type Dependencies struct {
	Sessions   SessionStarter
	Membership Membership
	Cooldowns  CooldownStore
	Archive    Archive
	Publisher  events.Publisher
	Logger     *zap.Logger
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.HandshakeTTL <= 0 {
		cfg.HandshakeTTL = 15 * time.Second
	}
	if cfg.DeclineCooldown <= 0 {
		cfg.DeclineCooldown = 10 * time.Minute
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		cfg:        cfg,
		sessions:   deps.Sessions,
		membership: deps.Membership,
		cooldowns:  deps.Cooldowns,
		archive:    deps.Archive,
		publisher:  deps.Publisher,
		logger:     logger,
		now:        time.Now,
		matches:    make(map[string]*pendingState),
		byUser:     make(map[int64]string),
	}
}

// SetNow overrides the clock, tests only.
func (s *Service) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create registers a pending match for a pair the pairing engine has
// already claimed from the queue, arms its handshake gate, and
// notifies both participants.
func (s *Service) Create(ctx context.Context, a, b model.QueueEntry, score int) (model.PendingMatch, error) {
	if s.sessions == nil {
		return model.PendingMatch{}, fmt.Errorf("session starter is not configured")
	}
	if a.UserID <= 0 || b.UserID <= 0 || a.UserID == b.UserID {
		return model.PendingMatch{}, ErrValidation
	}

	now := s.now()
	match := model.PendingMatch{
		ID:           uuid.NewString(),
		ParticipantA: a.UserID,
		ParticipantB: b.UserID,
		Score:        score,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.HandshakeTTL),
		DecisionA:    enums.VoteNone,
		DecisionB:    enums.VoteNone,
	}

	state := &pendingState{match: match}
	state.g = gate.Open(
		match.ID,
		match.Participants(),
		s.cfg.HandshakeTTL,
		match.ExpiresAt,
		func(outcome gate.Outcome) {
			s.onResolved(match.ID, outcome)
		},
		s.logger,
	)

	s.mu.Lock()
	s.matches[match.ID] = state
	s.byUser[match.ParticipantA] = match.ID
	s.byUser[match.ParticipantB] = match.ID
	s.mu.Unlock()

	for _, userID := range match.Participants() {
		counterpart, _ := match.Counterpart(userID)
		s.publish(ctx, userID, model.Event{
			Kind: model.EventMatchPending,
			Match: &model.MatchEventPayload{
				MatchID:       match.ID,
				CounterpartID: counterpart,
				Score:         match.Score,
				ExpiresAt:     match.ExpiresAt,
			},
		})
	}

	s.logger.Info("match proposed",
		zap.String("match_id", match.ID),
		zap.Int64("user_a", match.ParticipantA),
		zap.Int64("user_b", match.ParticipantB),
		zap.Int("score", match.Score),
	)

	return match, nil
}

// Accept records a continue vote. Repeated accepts are no-ops.
func (s *Service) Accept(ctx context.Context, matchID string, userID int64) (Snapshot, error) {
	return s.vote(ctx, matchID, userID, enums.VoteContinue)
}

// Decline dissolves the match immediately, regardless of what the
// counterpart already answered.
func (s *Service) Decline(ctx context.Context, matchID string, userID int64) (Snapshot, error) {
	return s.vote(ctx, matchID, userID, enums.VoteEnd)
}

func (s *Service) vote(ctx context.Context, matchID string, userID int64, vote enums.Vote) (Snapshot, error) {
	if matchID == "" || userID <= 0 {
		return Snapshot{}, ErrValidation
	}

	s.mu.RLock()
	state, ok := s.matches[matchID]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrMatchNotFound
	}
	if !has(state.match, userID) {
		return Snapshot{}, ErrNotParticipant
	}

	if _, err := state.g.Vote(userID, vote); err != nil {
		if errors.Is(err, gate.ErrNotParticipant) {
			return Snapshot{}, ErrNotParticipant
		}
		return Snapshot{}, err
	}

	// A resolving vote evicts the match from the registry, so read the
	// snapshot off the captured state rather than a second lookup.
	return snapshotOf(state), nil
}

// Get returns the current handshake state, resolved matches included
// until eviction.
func (s *Service) Get(matchID string) (Snapshot, error) {
	return s.snapshot(matchID)
}

// ForUser resolves the caller's pending match for the poll endpoint.
func (s *Service) ForUser(userID int64) (Snapshot, bool) {
	s.mu.RLock()
	matchID, ok := s.byUser[userID]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}

	snap, err := s.snapshot(matchID)
	if err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

// SweepExpired force-expires handshake gates whose deadline passed but
// whose timer has not fired, and evicts resolved matches past the
// retention window.
func (s *Service) SweepExpired() {
	now := s.now()

	s.mu.Lock()
	var stale []*gate.Gate
	for id, state := range s.matches {
		if !state.resolvedAt.IsZero() {
			if now.Sub(state.resolvedAt) > resolvedRetention {
				delete(s.matches, id)
			}
			continue
		}
		if now.After(state.g.ExpiresAt()) {
			stale = append(stale, state.g)
		}
	}
	s.mu.Unlock()

	for _, g := range stale {
		g.Expire()
	}
}

func (s *Service) onResolved(matchID string, outcome gate.Outcome) {
	ctx := context.Background()

	s.mu.Lock()
	state, ok := s.matches[matchID]
	if ok {
		// The entry stays in the registry for the retention window; only
		// the per-user index is dropped so both users read as free.
		state.resolvedAt = s.now()
		if s.byUser[state.match.ParticipantA] == matchID {
			delete(s.byUser, state.match.ParticipantA)
		}
		if s.byUser[state.match.ParticipantB] == matchID {
			delete(s.byUser, state.match.ParticipantB)
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	match := state.match
	match.DecisionA = outcome.Votes[match.ParticipantA]
	match.DecisionB = outcome.Votes[match.ParticipantB]

	if s.archive != nil {
		if err := s.archive.SaveMatchOutcome(ctx, match, outcome.Resolution, s.now()); err != nil {
			s.logger.Warn("match outcome archive failed",
				zap.String("match_id", match.ID),
				zap.Error(err),
			)
		}
	}

	switch outcome.Resolution {
	case enums.ResolutionAdvance:
		if _, err := s.sessions.Start(ctx, match); err != nil {
			s.logger.Error("session start failed",
				zap.String("match_id", match.ID),
				zap.Error(err),
			)
			s.release(match)
			s.notifyDissolved(ctx, match, model.EventMatchExpired)
		}

	case enums.ResolutionTimeout:
		s.release(match)
		s.notifyDissolved(ctx, match, model.EventMatchExpired)

	default:
		// Explicit decline earns the pair a cooldown so they are not
		// immediately re-proposed to each other.
		if s.cooldowns != nil {
			if err := s.cooldowns.SetPairCooldown(ctx, match.ParticipantA, match.ParticipantB, s.cfg.DeclineCooldown); err != nil {
				s.logger.Warn("pair cooldown set failed",
					zap.String("match_id", match.ID),
					zap.Error(err),
				)
			}
		}
		s.release(match)
		s.notifyDissolved(ctx, match, model.EventMatchDeclined)
	}
}

func (s *Service) release(match model.PendingMatch) {
	if s.membership != nil {
		s.membership.Release(match.ParticipantA, match.ParticipantB)
	}
}

func (s *Service) notifyDissolved(ctx context.Context, match model.PendingMatch, kind model.EventKind) {
	for _, userID := range match.Participants() {
		counterpart, _ := match.Counterpart(userID)
		s.publish(ctx, userID, model.Event{
			Kind: kind,
			Match: &model.MatchEventPayload{
				MatchID:       match.ID,
				CounterpartID: counterpart,
			},
		})
	}
}

func (s *Service) snapshot(matchID string) (Snapshot, error) {
	s.mu.RLock()
	state, ok := s.matches[matchID]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrMatchNotFound
	}

	return snapshotOf(state), nil
}

func snapshotOf(state *pendingState) Snapshot {
	gateSnap := state.g.State()
	match := state.match
	match.DecisionA = gateSnap.Votes[match.ParticipantA]
	match.DecisionB = gateSnap.Votes[match.ParticipantB]
	return Snapshot{Match: match, Decision: gateSnap}
}

func (s *Service) publish(ctx context.Context, userID int64, event model.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, []int64{userID}, event)
}

func has(m model.PendingMatch, userID int64) bool {
	return m.ParticipantA == userID || m.ParticipantB == userID
}
