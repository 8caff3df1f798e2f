package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/model"
	"github.com/ivankudzin/sparkcall/backend/internal/domain/rules"
)

var ErrValidation = errors.New("validation error")

// Queue is the waiting-pool surface the engine matches over.
// TryClaimPair is the only mutation: both users leave the pool
// atomically or neither does.
type Queue interface {
	Entry(userID int64) (model.QueueEntry, bool)
	Waiting() []model.QueueEntry
	TryClaimPair(a, b int64) (model.QueueEntry, model.QueueEntry, bool)
}

type Cooldowns interface {
	PairOnCooldown(ctx context.Context, a, b int64) (bool, error)
}

// MatchCreator receives a claimed pair. The handshake service
// implements it.
type MatchCreator interface {
	Create(ctx context.Context, a, b model.QueueEntry, score int) (model.PendingMatch, error)
}

// Engine scans the waiting pool and proposes the best-scoring
// compatible pair. It runs on every enqueue and again from the
// periodic sweep, so a user left behind by earlier scans is retried
// as the pool changes.
type Engine struct {
	scoring   rules.ScoreConfig
	queue     Queue
	cooldowns Cooldowns
	matches   MatchCreator
	logger    *zap.Logger
	now       func() time.Time
}

type Dependencies struct {
	Queue     Queue
	Cooldowns Cooldowns
	Matches   MatchCreator
	Logger    *zap.Logger
}

func NewEngine(deps Dependencies, scoring rules.ScoreConfig) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		scoring:   scoring,
		queue:     deps.Queue,
		cooldowns: deps.Cooldowns,
		matches:   deps.Matches,
		logger:    logger,
		now:       time.Now,
	}
}

// SetNow overrides the clock, tests only.
func (e *Engine) SetNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// PairUser tries to match one user against the current waiting pool.
// Returns false with no error when nobody compatible is waiting; the
// user simply stays queued. A lost claim race triggers a re-scan
// because the pool has changed under us.
func (e *Engine) PairUser(ctx context.Context, userID int64) (bool, error) {
	if e.queue == nil || e.matches == nil {
		return false, fmt.Errorf("pairing engine is not fully configured")
	}
	if userID <= 0 {
		return false, ErrValidation
	}

	for {
		entry, ok := e.queue.Entry(userID)
		if !ok {
			return false, nil
		}

		best, found := e.bestCandidate(ctx, entry)
		if !found {
			return false, nil
		}

		a, b, claimed := e.queue.TryClaimPair(entry.UserID, best.entry.UserID)
		if !claimed {
			continue
		}

		match, err := e.matches.Create(ctx, a, b, best.score)
		if err != nil {
			return false, err
		}

		e.logger.Info("pair claimed",
			zap.String("match_id", match.ID),
			zap.Int64("user_a", a.UserID),
			zap.Int64("user_b", b.UserID),
			zap.Int("score", best.score),
		)
		return true, nil
	}
}

// Sweep walks the waiting pool oldest-first and pairs whoever it can.
// The periodic sweeper job calls this as a safety net for users whose
// enqueue-time scan found nobody.
func (e *Engine) Sweep(ctx context.Context) {
	for _, entry := range e.queue.Waiting() {
		// The entry may have been claimed by an earlier iteration.
		if _, ok := e.queue.Entry(entry.UserID); !ok {
			continue
		}
		if _, err := e.PairUser(ctx, entry.UserID); err != nil {
			e.logger.Warn("sweep pairing failed",
				zap.Int64("user_id", entry.UserID),
				zap.Error(err),
			)
		}
	}
}

type candidate struct {
	entry model.QueueEntry
	score int
}

// bestCandidate picks the highest-scoring mutually compatible entry;
// Waiting is ordered oldest-first, so keeping the first entry on a
// score tie favors the longest wait.
func (e *Engine) bestCandidate(ctx context.Context, subject model.QueueEntry) (candidate, bool) {
	now := e.now()

	var best candidate
	found := false
	for _, other := range e.queue.Waiting() {
		if other.UserID == subject.UserID {
			continue
		}
		if !rules.Compatible(subject.Prefs, other.Prefs) {
			continue
		}
		if e.onCooldown(ctx, subject.UserID, other.UserID) {
			continue
		}

		score := rules.Score(subject.Prefs, other.Prefs, other.EnqueuedAt, now, e.scoring)
		if !found || score > best.score {
			best = candidate{entry: other, score: score}
			found = true
		}
	}
	return best, found
}

// onCooldown fails open: an unreachable cooldown store must not stall
// the whole matching pipeline, it only risks one early re-proposal.
func (e *Engine) onCooldown(ctx context.Context, a, b int64) bool {
	if e.cooldowns == nil {
		return false
	}
	blocked, err := e.cooldowns.PairOnCooldown(ctx, a, b)
	if err != nil {
		e.logger.Warn("cooldown lookup failed",
			zap.Int64("user_a", a),
			zap.Int64("user_b", b),
			zap.Error(err),
		)
		return false
	}
	return blocked
}
