package model

import (
	"time"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/enums"
)

type EventKind string

const (
	EventMatchPending     EventKind = "match_pending"
	EventMatchDeclined    EventKind = "match_declined"
	EventMatchExpired     EventKind = "match_expired"
	EventCallStarted      EventKind = "call_started"
	EventDecisionOpened   EventKind = "decision_opened"
	EventStageAdvanced    EventKind = "stage_advanced"
	EventSessionEnded     EventKind = "session_ended"
	EventSessionCompleted EventKind = "session_completed"
)

// Event is the closed union delivered to clients over push with the
// poll endpoint as fallback. Exactly one payload field is set for a
// given kind. Seq increases per recipient so duplicated or reordered
// deliveries can be discarded; clients must re-anchor countdowns on
// every ExpiresAt they receive, last writer wins.
type Event struct {
	Kind EventKind `json:"kind"`
	Seq  int64     `json:"seq"`
	At   time.Time `json:"at"`

	Match   *MatchEventPayload   `json:"match,omitempty"`
	Session *SessionEventPayload `json:"session,omitempty"`
}

type MatchEventPayload struct {
	MatchID       string    `json:"match_id"`
	CounterpartID int64     `json:"counterpart_id,omitempty"`
	Score         int       `json:"score,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

type SessionEventPayload struct {
	SessionID string          `json:"session_id"`
	ChannelID string          `json:"channel_id,omitempty"`
	Stage     enums.Stage     `json:"stage,omitempty"`
	ExpiresAt time.Time       `json:"expires_at,omitempty"`
	Reason    enums.EndReason `json:"reason,omitempty"`
}
