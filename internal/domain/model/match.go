package model

import (
	"time"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/enums"
)

// PendingMatch is an unconfirmed pairing awaiting mutual acceptance.
// It exists only while at least one decision is still open and the
// handshake window has not elapsed; it is destroyed on promotion to a
// call session, on any decline, or on expiry.
type PendingMatch struct {
	ID           string     `json:"id"`
	ParticipantA int64      `json:"participant_a"`
	ParticipantB int64      `json:"participant_b"`
	Score        int        `json:"score"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	DecisionA    enums.Vote `json:"decision_a"`
	DecisionB    enums.Vote `json:"decision_b"`
}

func (m PendingMatch) Participants() [2]int64 {
	return [2]int64{m.ParticipantA, m.ParticipantB}
}

func (m PendingMatch) Counterpart(userID int64) (int64, bool) {
	switch userID {
	case m.ParticipantA:
		return m.ParticipantB, true
	case m.ParticipantB:
		return m.ParticipantA, true
	default:
		return 0, false
	}
}
