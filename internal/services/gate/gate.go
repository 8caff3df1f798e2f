package gate

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/enums"
)

var ErrNotParticipant = errors.New("user is not a gate participant")

// Outcome is handed to the owner exactly once, when the gate resolves.
// EndedBy is the participant whose end vote terminated the gate, zero
// on timeout or unanimous advance.
type Outcome struct {
	SubjectID  string
	Resolution enums.Resolution
	EndedBy    int64
	Votes      map[int64]enums.Vote
}

// Snapshot is the observable gate state. WaitingFor lists participants
// who have not voted yet; clients use it to render "waiting for the
// other party", which is presentation, not protocol state.
type Snapshot struct {
	SubjectID  string
	ExpiresAt  time.Time
	Resolution enums.Resolution
	Votes      map[int64]enums.Vote
	WaitingFor []int64
}

// Gate is a timed two-party vote. Resolution is deterministic and
// order-independent: any end vote terminates immediately, two continue
// votes advance, expiry times out. It resolves exactly once; the ttl
// timer is stopped the instant a vote resolves the gate, and votes
// arriving after resolution are accepted but have no effect.
type Gate struct {
	mu           sync.Mutex
	subjectID    string
	participants [2]int64
	expiresAt    time.Time
	votes        map[int64]enums.Vote
	resolution   enums.Resolution
	timer        *time.Timer
	onResolve    func(Outcome)
	logger       *zap.Logger
}

// Open starts the gate and schedules its expiry. onResolve is invoked
// exactly once, synchronously from the goroutine that caused the
// resolution (the deciding voter's request or the expiry timer); it
// must not call back into this gate.
func Open(subjectID string, participants [2]int64, ttl time.Duration, expiresAt time.Time, onResolve func(Outcome), logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gate{
		subjectID:    subjectID,
		participants: participants,
		expiresAt:    expiresAt,
		votes:        make(map[int64]enums.Vote, 2),
		resolution:   enums.ResolutionPending,
		onResolve:    onResolve,
		logger:       logger,
	}
	g.timer = time.AfterFunc(ttl, g.expire)
	return g
}

// Vote records a participant's choice and resolves the gate when the
// choice is deciding. Duplicate and post-resolution votes are no-ops
// returning the already-known resolution.
func (g *Gate) Vote(userID int64, vote enums.Vote) (enums.Resolution, error) {
	if vote != enums.VoteContinue && vote != enums.VoteEnd {
		return enums.ResolutionPending, errors.New("invalid vote choice")
	}

	g.mu.Lock()

	if !g.isParticipant(userID) {
		g.mu.Unlock()
		return enums.ResolutionPending, ErrNotParticipant
	}

	if g.resolution.Decided() {
		resolution := g.resolution
		g.mu.Unlock()
		g.logger.Debug("stale vote ignored",
			zap.String("subject_id", g.subjectID),
			zap.Int64("user_id", userID),
			zap.String("vote", string(vote)),
		)
		return resolution, nil
	}

	// An end vote overrides the voter's own earlier continue; a repeat
	// of the same choice is a no-op.
	if prev, ok := g.votes[userID]; ok && (prev == vote || vote == enums.VoteContinue) {
		resolution := g.resolution
		g.mu.Unlock()
		return resolution, nil
	}
	g.votes[userID] = vote

	var outcome Outcome
	resolved := false

	switch {
	case vote == enums.VoteEnd:
		outcome = g.resolveLocked(enums.ResolutionTerminate, userID)
		resolved = true
	case g.votes[g.participants[0]] == enums.VoteContinue && g.votes[g.participants[1]] == enums.VoteContinue:
		outcome = g.resolveLocked(enums.ResolutionAdvance, 0)
		resolved = true
	}

	resolution := g.resolution
	g.mu.Unlock()

	if resolved && g.onResolve != nil {
		g.onResolve(outcome)
	}
	return resolution, nil
}

// Expire forces a timeout resolution if the gate is still pending.
// The scheduled timer calls this; sweepers may call it early when the
// deadline has passed on a clock-skewed host.
func (g *Gate) Expire() {
	g.expire()
}

// Cancel discards the gate without resolving it. Used when the owning
// subject dies for an unrelated reason before anyone voted.
func (g *Gate) Cancel() {
	g.mu.Lock()
	if !g.resolution.Decided() {
		g.resolution = enums.ResolutionTerminate
		g.stopTimerLocked()
		// Owner initiated the cancellation; no callback.
		g.onResolve = nil
	}
	g.mu.Unlock()
}

func (g *Gate) State() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	votes := make(map[int64]enums.Vote, len(g.votes))
	for id, v := range g.votes {
		votes[id] = v
	}

	var waiting []int64
	for _, id := range g.participants {
		if _, ok := g.votes[id]; !ok {
			waiting = append(waiting, id)
		}
	}

	return Snapshot{
		SubjectID:  g.subjectID,
		ExpiresAt:  g.expiresAt,
		Resolution: g.resolution,
		Votes:      votes,
		WaitingFor: waiting,
	}
}

func (g *Gate) ExpiresAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expiresAt
}

func (g *Gate) expire() {
	g.mu.Lock()
	if g.resolution.Decided() {
		g.mu.Unlock()
		return
	}
	outcome := g.resolveLocked(enums.ResolutionTimeout, 0)
	onResolve := g.onResolve
	g.mu.Unlock()

	if onResolve != nil {
		onResolve(outcome)
	}
}

func (g *Gate) resolveLocked(resolution enums.Resolution, endedBy int64) Outcome {
	g.resolution = resolution
	g.stopTimerLocked()

	votes := make(map[int64]enums.Vote, len(g.votes))
	for id, v := range g.votes {
		votes[id] = v
	}

	return Outcome{
		SubjectID:  g.subjectID,
		Resolution: resolution,
		EndedBy:    endedBy,
		Votes:      votes,
	}
}

func (g *Gate) stopTimerLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Gate) isParticipant(userID int64) bool {
	return userID == g.participants[0] || userID == g.participants[1]
}
