package dto

import "time"

type MatchResponse struct {
	MatchID       string    `json:"match_id"`
	CounterpartID int64     `json:"counterpart_id"`
	Score         int       `json:"score"`
	ExpiresAt     time.Time `json:"expires_at"`
	YourDecision  string    `json:"your_decision"`
	Resolution    string    `json:"resolution"`
	WaitingForYou bool      `json:"waiting_for_you"`
}
