package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/enums"
	"github.com/ivankudzin/sparkcall/backend/internal/domain/model"
)

// ArchiveRepo persists finished handshakes and call sessions. The live
// state machine is in-memory; archival rows power history and metrics.
type ArchiveRepo struct {
	pool *pgxpool.Pool
}

func NewArchiveRepo(pool *pgxpool.Pool) *ArchiveRepo {
	return &ArchiveRepo{pool: pool}
}

func (r *ArchiveRepo) SaveMatchOutcome(ctx context.Context, match model.PendingMatch, resolution enums.Resolution, at time.Time) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	const query = `
INSERT INTO match_outcomes (
	match_id,
	user_a_id,
	user_b_id,
	score,
	resolution,
	created_at,
	resolved_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (match_id) DO NOTHING
`

	_, err := r.pool.Exec(ctx, query,
		match.ID,
		match.ParticipantA,
		match.ParticipantB,
		match.Score,
		string(resolution),
		match.CreatedAt.UTC(),
		at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save match outcome: %w", err)
	}

	return nil
}

// SaveSession archives a finished session and bumps both participants'
// lifetime counters in the same transaction, so history and stats never
// drift apart.
func (r *ArchiveRepo) SaveSession(ctx context.Context, session model.CallSession) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	const archiveQuery = `
INSERT INTO session_archive (
	session_id,
	user_a_id,
	user_b_id,
	final_stage,
	status,
	end_reason,
	started_at,
	ended_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id) DO UPDATE SET
	final_stage = EXCLUDED.final_stage,
	status = EXCLUDED.status,
	end_reason = EXCLUDED.end_reason,
	ended_at = EXCLUDED.ended_at
`

	const statsQuery = `
INSERT INTO user_session_stats (
	user_id,
	sessions_total,
	contact_reached_total,
	last_session_at
) VALUES ($1, 1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET
	sessions_total = user_session_stats.sessions_total + 1,
	contact_reached_total = user_session_stats.contact_reached_total + EXCLUDED.contact_reached_total,
	last_session_at = EXCLUDED.last_session_at
`

	var endedAt *time.Time
	if session.EndedAt != nil {
		t := session.EndedAt.UTC()
		endedAt = &t
	}

	reachedContact := 0
	if session.Stage == enums.StageContact {
		reachedContact = 1
	}

	return WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, archiveQuery,
			session.ID,
			session.ParticipantA,
			session.ParticipantB,
			int(session.Stage),
			string(session.Status),
			string(session.EndReason),
			session.StartedAt.UTC(),
			endedAt,
		)
		if err != nil {
			return fmt.Errorf("save session archive: %w", err)
		}

		for _, userID := range []int64{session.ParticipantA, session.ParticipantB} {
			if _, err := tx.Exec(ctx, statsQuery, userID, reachedContact, session.StartedAt.UTC()); err != nil {
				return fmt.Errorf("bump session stats for user %d: %w", userID, err)
			}
		}

		return nil
	})
}

func (r *ArchiveRepo) CountSessionsSince(ctx context.Context, since time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM session_archive WHERE started_at >= $1`,
		since.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count archived sessions: %w", err)
	}

	return count, nil
}
