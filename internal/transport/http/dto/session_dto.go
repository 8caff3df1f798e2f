package dto

import "time"

type SessionDecisionRequest struct {
	Stage int    `json:"stage"`
	Vote  string `json:"decision"`
}

type SessionResponse struct {
	SessionID      string     `json:"session_id"`
	ChannelID      string     `json:"channel_id,omitempty"`
	CounterpartID  int64      `json:"counterpart_id"`
	Stage          int        `json:"stage"`
	StageExpiresAt time.Time  `json:"stage_expires_at"`
	Status         string     `json:"status"`
	EndReason      string     `json:"end_reason,omitempty"`
	DecisionOpen   bool       `json:"decision_open"`
	DecisionExpiry *time.Time `json:"decision_expires_at,omitempty"`
	YourVote       string     `json:"your_vote,omitempty"`
}

type ContactCardResponse struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Telegram    string `json:"telegram,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Instagram   string `json:"instagram,omitempty"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}
