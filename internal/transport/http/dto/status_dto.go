package dto

// StatusResponse is the authoritative poll payload: exactly one of
// Match or Session is set when Phase is matched or in_session.
type StatusResponse struct {
	Phase   string               `json:"phase"`
	Queue   *QueueStatusResponse `json:"queue,omitempty"`
	Match   *MatchResponse       `json:"match,omitempty"`
	Session *SessionResponse     `json:"session,omitempty"`
}
