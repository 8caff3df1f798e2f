package model

import (
	"time"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/enums"
)

// CallSession is an active paired encounter progressing through the
// three stages. Created only from a fully-accepted pending match and
// mutated only by the session service.
type CallSession struct {
	ID             string              `json:"id"`
	ParticipantA   int64               `json:"participant_a"`
	ParticipantB   int64               `json:"participant_b"`
	ChannelID      string              `json:"channel_id"`
	Stage          enums.Stage         `json:"stage"`
	StageExpiresAt time.Time           `json:"stage_expires_at"`
	Status         enums.SessionStatus `json:"status"`
	EndReason      enums.EndReason     `json:"end_reason,omitempty"`
	StartedAt      time.Time           `json:"started_at"`
	EndedAt        *time.Time          `json:"ended_at,omitempty"`
}

func (s CallSession) Participants() [2]int64 {
	return [2]int64{s.ParticipantA, s.ParticipantB}
}

func (s CallSession) Counterpart(userID int64) (int64, bool) {
	switch userID {
	case s.ParticipantA:
		return s.ParticipantB, true
	case s.ParticipantB:
		return s.ParticipantA, true
	default:
		return 0, false
	}
}

func (s CallSession) HasParticipant(userID int64) bool {
	return userID == s.ParticipantA || userID == s.ParticipantB
}

// ContactCard is the reciprocal disclosure unlocked at stage 3.
type ContactCard struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Telegram    string `json:"telegram"`
	Phone       string `json:"phone"`
	Instagram   string `json:"instagram"`
}
