package session

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
	"github.com/ivankudzin/sparkcall/backend/internal/pkg/keymutex"
	"github.com/ivankudzin/sparkcall/backend/internal/services/events"
	"github.com/ivankudzin/sparkcall/backend/internal/services/gate"
	"github.com/ivankudzin/sparkcall/backend/internal/services/rtc"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrSessionNotFound = errors.New("session not found")
	ErrNotParticipant  = errors.New("user is not a session participant")
	ErrStageMismatch   = errors.New("decision stage does not match the current stage")
	ErrDecisionNotOpen = errors.New("no decision is open for this stage")
	ErrContactLocked   = errors.New("contact exchange is not unlocked")
)

type Config struct {
	DecisionTTL    time.Duration
	Stage1Duration time.Duration
	Stage2Duration time.Duration
	ContactWindow  time.Duration
}

// Membership is the queue service's registry: sessions promote matched
// users on start and free them on every exit path.
type Membership interface {
	MarkInSession(userIDs ...int64)
	Release(userIDs ...int64)
}

type Archive interface {
	SaveSession(ctx context.Context, session model.CallSession) error
}

type ContactStore interface {
	GetContactCard(ctx context.Context, userID int64) (model.ContactCard, error)
}

// Snapshot is the authoritative view handed to the poll endpoint and
// returned from every mutating call, carrying the latest expiry so
// clients can re-anchor their countdowns.
type Snapshot struct {
	Session  model.CallSession
	Decision *gate.Snapshot
}

type liveSession struct {
	session      model.CallSession
	bindings     map[int64]rtc.Binding
	stageTimer   *time.Timer
	decisionGate *gate.Gate
}

// Service owns every active call session and drives the stage machine:
// stage1 audio, stage2 video, stage3 contact exchange, with one
// decision gate per boundary. All transitions for one session
// serialize through a keyed lock; unrelated sessions run in parallel.
type Service struct {
	cfg        Config
	provider   rtc.Provider
	publisher  events.Publisher
	membership Membership
	archive    Archive
	contacts   ContactStore
	logger     *zap.Logger
	locks      *keymutex.KeyMutex
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*liveSession
	byUser   map[int64]string
}

type Dependencies struct {
	Provider   rtc.Provider
	Publisher  events.Publisher
	Membership Membership
	Archive    Archive
	Contacts   ContactStore
	Logger     *zap.Logger
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.DecisionTTL <= 0 {
		cfg.DecisionTTL = 15 * time.Second
	}
	if cfg.Stage1Duration <= 0 {
		cfg.Stage1Duration = 90 * time.Second
	}
	if cfg.Stage2Duration <= 0 {
		cfg.Stage2Duration = 90 * time.Second
	}
	if cfg.ContactWindow <= 0 {
		cfg.ContactWindow = 24 * time.Hour
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		cfg:        cfg,
		provider:   deps.Provider,
		publisher:  deps.Publisher,
		membership: deps.Membership,
		archive:    deps.Archive,
		contacts:   deps.Contacts,
		logger:     logger,
		locks:      keymutex.New(),
		now:        time.Now,
		sessions:   make(map[string]*liveSession),
		byUser:     make(map[int64]string),
	}
}

// SetNow overrides the clock, tests only.
func (s *Service) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Start promotes a fully-accepted match into a stage-1 session and
// binds audio-only media for both participants. A bind failure
// terminates the brand-new session with a transport reason instead of
// leaving one side on stale media; the caller still gets the terminal
// snapshot, not an error, because the protocol outcome was delivered
// to both participants via events.
func (s *Service) Start(ctx context.Context, match model.PendingMatch) (model.CallSession, error) {
	if s.provider == nil {
		return model.CallSession{}, fmt.Errorf("media provider is not configured")
	}

	now := s.now()
	sess := model.CallSession{
		ID:             uuid.NewString(),
		ParticipantA:   match.ParticipantA,
		ParticipantB:   match.ParticipantB,
		ChannelID:      uuid.NewString(),
		Stage:          enums.StageAudio,
		StageExpiresAt: now.Add(s.cfg.Stage1Duration),
		Status:         enums.SessionStatusActive,
		StartedAt:      now,
	}

	ls := &liveSession{
		session:  sess,
		bindings: make(map[int64]rtc.Binding, 2),
	}

	s.locks.Lock(sess.ID)
	defer s.locks.Unlock(sess.ID)

	s.mu.Lock()
	s.sessions[sess.ID] = ls
	s.byUser[sess.ParticipantA] = sess.ID
	s.byUser[sess.ParticipantB] = sess.ID
	s.mu.Unlock()

	if s.membership != nil {
		s.membership.MarkInSession(sess.ParticipantA, sess.ParticipantB)
	}

	for _, userID := range sess.Participants() {
		binding, err := s.provider.Bind(ctx, sess.ChannelID, userID, rtc.Tracks{Audio: true})
		if err != nil {
			s.logger.Warn("initial media bind failed",
				zap.String("session_id", sess.ID),
				zap.Int64("user_id", userID),
				zap.Error(err),
			)
			s.terminateLocked(ctx, ls, enums.EndReasonTransportFailed(userID))
			return ls.session, nil
		}
		ls.bindings[userID] = binding
	}

	ls.stageTimer = time.AfterFunc(s.cfg.Stage1Duration, func() {
		s.openDecision(sess.ID, enums.StageAudio)
	})

	s.publish(ctx, sess.Participants(), model.Event{
		Kind: model.EventCallStarted,
		Session: &model.SessionEventPayload{
			SessionID: sess.ID,
			ChannelID: sess.ChannelID,
			Stage:     sess.Stage,
			ExpiresAt: sess.StageExpiresAt,
		},
	})

	return ls.session, nil
}

// SubmitDecision records a stage-boundary vote. Duplicate votes and
// votes after resolution are no-ops returning current state.
func (s *Service) SubmitDecision(ctx context.Context, sessionID string, userID int64, stage enums.Stage, vote enums.Vote) (Snapshot, error) {
	if sessionID == "" || userID <= 0 || !stage.Valid() {
		return Snapshot{}, ErrValidation
	}
	if vote != enums.VoteContinue && vote != enums.VoteEnd {
		return Snapshot{}, ErrValidation
	}

	g, err := s.decisionGate(sessionID, userID, stage)
	if err != nil {
		switch {
		case errors.Is(err, errStaleDecision):
			// Retried delivery of a vote whose gate already resolved;
			// acknowledge with the current state.
			s.logger.Debug("stale stage decision ignored",
				zap.String("session_id", sessionID),
				zap.Int64("user_id", userID),
				zap.Int("stage", int(stage)),
			)
			return s.Get(sessionID)
		case errors.Is(err, ErrDecisionNotOpen) && vote == enums.VoteEnd:
			// An end vote is honored even when no gate is open yet: the
			// user can always hang up mid-stage.
			if endErr := s.End(ctx, sessionID, userID); endErr != nil {
				return Snapshot{}, endErr
			}
			return s.Get(sessionID)
		}
		return Snapshot{}, err
	}

	if _, err := g.Vote(userID, vote); err != nil {
		if errors.Is(err, gate.ErrNotParticipant) {
			return Snapshot{}, ErrNotParticipant
		}
		return Snapshot{}, err
	}

	return s.Get(sessionID)
}

// End terminates the session on behalf of a participant, from any
// stage, decision open or not.
func (s *Service) End(ctx context.Context, sessionID string, userID int64) error {
	if sessionID == "" || userID <= 0 {
		return ErrValidation
	}

	s.locks.Lock(sessionID)
	defer s.locks.Unlock(sessionID)

	ls, ok := s.live(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if !ls.session.HasParticipant(userID) {
		return ErrNotParticipant
	}
	if ls.session.Status != enums.SessionStatusActive {
		return nil
	}

	s.terminateLocked(ctx, ls, enums.EndReasonDeclinedBy(userID))
	return nil
}

// Acknowledge completes a stage-3 session: the first explicit ack from
// either side closes the contact-exchange window for both.
func (s *Service) Acknowledge(ctx context.Context, sessionID string, userID int64) error {
	if sessionID == "" || userID <= 0 {
		return ErrValidation
	}

	s.locks.Lock(sessionID)
	defer s.locks.Unlock(sessionID)

	ls, ok := s.live(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if !ls.session.HasParticipant(userID) {
		return ErrNotParticipant
	}
	if ls.session.Status != enums.SessionStatusActive {
		return nil
	}
	if ls.session.Stage != enums.StageContact {
		return ErrStageMismatch
	}

	s.completeLocked(ctx, ls)
	return nil
}

// ContactCard returns the counterpart's contact fields, readable only
// while the session sits in the stage-3 exposure window.
func (s *Service) ContactCard(ctx context.Context, sessionID string, userID int64) (model.ContactCard, error) {
	if sessionID == "" || userID <= 0 {
		return model.ContactCard{}, ErrValidation
	}
	if s.contacts == nil {
		return model.ContactCard{}, fmt.Errorf("contact store is not configured")
	}

	s.locks.Lock(sessionID)
	ls, ok := s.live(sessionID)
	if !ok {
		s.locks.Unlock(sessionID)
		return model.ContactCard{}, ErrSessionNotFound
	}
	counterpart, isParticipant := ls.session.Counterpart(userID)
	unlocked := ls.session.Status == enums.SessionStatusActive && ls.session.Stage == enums.StageContact
	s.locks.Unlock(sessionID)

	if !isParticipant {
		return model.ContactCard{}, ErrNotParticipant
	}
	if !unlocked {
		return model.ContactCard{}, ErrContactLocked
	}

	return s.contacts.GetContactCard(ctx, counterpart)
}

// Get reads under the same keyed lock the transitions write under, so
// a poll never observes a half-applied stage change.
func (s *Service) Get(sessionID string) (Snapshot, error) {
	s.locks.Lock(sessionID)
	defer s.locks.Unlock(sessionID)

	ls, ok := s.live(sessionID)
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}

	snap := Snapshot{Session: ls.session}
	if g := ls.decisionGate; g != nil {
		gateSnap := g.State()
		snap.Decision = &gateSnap
	}
	return snap, nil
}

// ForUser resolves the caller's active session for the poll endpoint.
func (s *Service) ForUser(userID int64) (Snapshot, bool) {
	s.mu.RLock()
	sessionID, ok := s.byUser[userID]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}

	snap, err := s.Get(sessionID)
	if err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

// finishedRetention keeps terminal sessions queryable long enough for
// a client poll to observe the final state before eviction.
const finishedRetention = time.Minute

// SweepExpired force-expires decision gates whose deadline passed but
// whose timer has not fired, and evicts terminal sessions past the
// retention window. The periodic sweeper job calls this.
func (s *Service) SweepExpired() {
	now := s.now()

	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var stale []*gate.Gate
	var evict []string
	for _, id := range ids {
		s.locks.Lock(id)
		ls, ok := s.live(id)
		if !ok {
			s.locks.Unlock(id)
			continue
		}
		if g := ls.decisionGate; g != nil && now.After(g.ExpiresAt()) {
			stale = append(stale, g)
		}
		if ls.session.Status != enums.SessionStatusActive &&
			ls.session.EndedAt != nil &&
			now.Sub(*ls.session.EndedAt) > finishedRetention {
			evict = append(evict, id)
		}
		s.locks.Unlock(id)
	}

	if len(evict) > 0 {
		s.mu.Lock()
		for _, id := range evict {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
	}

	for _, g := range stale {
		g.Expire()
	}
}

// errStaleDecision marks a vote that arrived after its gate already
// resolved: a retry of an accepted decision, or a decision for a stage
// the session has moved past. The protocol accepts such votes with no
// effect.
var errStaleDecision = errors.New("decision already resolved")

func (s *Service) decisionGate(sessionID string, userID int64, stage enums.Stage) (*gate.Gate, error) {
	s.locks.Lock(sessionID)
	defer s.locks.Unlock(sessionID)

	ls, ok := s.live(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !ls.session.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	if ls.session.Status != enums.SessionStatusActive {
		return nil, errStaleDecision
	}
	if stage < ls.session.Stage {
		return nil, errStaleDecision
	}
	if stage > ls.session.Stage {
		return nil, ErrStageMismatch
	}
	if ls.decisionGate == nil {
		return nil, ErrDecisionNotOpen
	}
	return ls.decisionGate, nil
}

// openDecision is the stage-duration elapsing: instead of silently
// ending the call, it opens the boundary gate with its own shorter
// ttl and tells both participants.
func (s *Service) openDecision(sessionID string, stage enums.Stage) {
	ctx := context.Background()

	s.locks.Lock(sessionID)

	ls, ok := s.live(sessionID)
	if !ok || ls.session.Status != enums.SessionStatusActive || ls.session.Stage != stage || ls.decisionGate != nil {
		s.locks.Unlock(sessionID)
		return
	}

	expiresAt := s.now().Add(s.cfg.DecisionTTL)
	ls.session.StageExpiresAt = expiresAt
	ls.decisionGate = gate.Open(
		fmt.Sprintf("%s:stage:%d", sessionID, stage),
		ls.session.Participants(),
		s.cfg.DecisionTTL,
		expiresAt,
		func(outcome gate.Outcome) {
			s.onDecisionResolved(sessionID, stage, outcome)
		},
		s.logger,
	)
	participants := ls.session.Participants()
	s.locks.Unlock(sessionID)

	s.publish(ctx, participants, model.Event{
		Kind: model.EventDecisionOpened,
		Session: &model.SessionEventPayload{
			SessionID: sessionID,
			Stage:     stage,
			ExpiresAt: expiresAt,
		},
	})
}

func (s *Service) onDecisionResolved(sessionID string, stage enums.Stage, outcome gate.Outcome) {
	ctx := context.Background()

	s.locks.Lock(sessionID)
	defer s.locks.Unlock(sessionID)

	ls, ok := s.live(sessionID)
	if !ok || ls.session.Status != enums.SessionStatusActive || ls.session.Stage != stage {
		return
	}
	ls.decisionGate = nil

	switch outcome.Resolution {
	case enums.ResolutionAdvance:
		s.advanceLocked(ctx, ls)
	case enums.ResolutionTimeout:
		s.terminateLocked(ctx, ls, enums.EndReasonTimedOut)
	default:
		s.terminateLocked(ctx, ls, enums.EndReasonDeclinedBy(outcome.EndedBy))
	}
}

func (s *Service) advanceLocked(ctx context.Context, ls *liveSession) {
	next, ok := ls.session.Stage.Next()
	if !ok {
		return
	}

	switch next {
	case enums.StageVideo:
		// Enable the video track for both sides before the stage is
		// considered entered; a failed rebind counts as that
		// participant ending the call.
		for _, userID := range ls.session.Participants() {
			binding := ls.bindings[userID]
			if binding == nil {
				s.terminateLocked(ctx, ls, enums.EndReasonTransportFailed(userID))
				return
			}
			rebound, err := s.provider.Rebind(ctx, binding, rtc.Tracks{Audio: true, Video: true})
			if err != nil {
				s.logger.Warn("video rebind failed",
					zap.String("session_id", ls.session.ID),
					zap.Int64("user_id", userID),
					zap.Error(err),
				)
				s.terminateLocked(ctx, ls, enums.EndReasonTransportFailed(userID))
				return
			}
			ls.bindings[userID] = rebound
		}

		ls.session.Stage = enums.StageVideo
		ls.session.StageExpiresAt = s.now().Add(s.cfg.Stage2Duration)
		sessionID := ls.session.ID
		ls.stageTimer = time.AfterFunc(s.cfg.Stage2Duration, func() {
			s.openDecision(sessionID, enums.StageVideo)
		})

	case enums.StageContact:
		// Stage 3 carries no live media; release the transport and
		// open the bounded contact-exposure window.
		s.closeBindingsLocked(ctx, ls)
		ls.session.Stage = enums.StageContact
		ls.session.StageExpiresAt = s.now().Add(s.cfg.ContactWindow)
		sessionID := ls.session.ID
		ls.stageTimer = time.AfterFunc(s.cfg.ContactWindow, func() {
			s.expireContactWindow(sessionID)
		})
	}

	s.publish(ctx, ls.session.Participants(), model.Event{
		Kind: model.EventStageAdvanced,
		Session: &model.SessionEventPayload{
			SessionID: ls.session.ID,
			ChannelID: ls.session.ChannelID,
			Stage:     ls.session.Stage,
			ExpiresAt: ls.session.StageExpiresAt,
		},
	})
}

func (s *Service) expireContactWindow(sessionID string) {
	ctx := context.Background()

	s.locks.Lock(sessionID)
	defer s.locks.Unlock(sessionID)

	ls, ok := s.live(sessionID)
	if !ok || ls.session.Status != enums.SessionStatusActive || ls.session.Stage != enums.StageContact {
		return
	}

	s.completeLocked(ctx, ls)
}

func (s *Service) terminateLocked(ctx context.Context, ls *liveSession, reason enums.EndReason) {
	s.finishLocked(ctx, ls, enums.SessionStatusTerminated, reason, model.EventSessionEnded)
}

func (s *Service) completeLocked(ctx context.Context, ls *liveSession) {
	s.finishLocked(ctx, ls, enums.SessionStatusCompleted, enums.EndReasonCompleted, model.EventSessionCompleted)
}

func (s *Service) finishLocked(ctx context.Context, ls *liveSession, status enums.SessionStatus, reason enums.EndReason, kind model.EventKind) {
	if ls.session.Status != enums.SessionStatusActive {
		return
	}

	if ls.stageTimer != nil {
		ls.stageTimer.Stop()
		ls.stageTimer = nil
	}
	if ls.decisionGate != nil {
		ls.decisionGate.Cancel()
		ls.decisionGate = nil
	}
	s.closeBindingsLocked(ctx, ls)

	now := s.now()
	ls.session.Status = status
	ls.session.EndReason = reason
	ls.session.EndedAt = &now

	s.mu.Lock()
	delete(s.byUser, ls.session.ParticipantA)
	delete(s.byUser, ls.session.ParticipantB)
	s.mu.Unlock()

	if s.membership != nil {
		s.membership.Release(ls.session.ParticipantA, ls.session.ParticipantB)
	}

	if s.archive != nil {
		if err := s.archive.SaveSession(ctx, ls.session); err != nil {
			s.logger.Warn("session archive failed",
				zap.String("session_id", ls.session.ID),
				zap.Error(err),
			)
		}
	}

	s.publish(ctx, ls.session.Participants(), model.Event{
		Kind: kind,
		Session: &model.SessionEventPayload{
			SessionID: ls.session.ID,
			Stage:     ls.session.Stage,
			Reason:    reason,
		},
	})
}

func (s *Service) closeBindingsLocked(ctx context.Context, ls *liveSession) {
	for userID, binding := range ls.bindings {
		if binding == nil {
			continue
		}
		if err := binding.Close(ctx); err != nil {
			s.logger.Warn("media unbind failed",
				zap.String("session_id", ls.session.ID),
				zap.Int64("user_id", userID),
				zap.Error(err),
			)
		}
	}
	ls.bindings = make(map[int64]rtc.Binding)
}

func (s *Service) live(sessionID string) (*liveSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.sessions[sessionID]
	return ls, ok
}

func (s *Service) publish(ctx context.Context, recipients [2]int64, event model.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, recipients[:], event)
}
