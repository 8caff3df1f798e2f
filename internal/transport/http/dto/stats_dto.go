package dto

type StatsResponse struct {
	SessionsLast24h int64 `json:"sessions_last_24h"`
	SessionsLast7d  int64 `json:"sessions_last_7d"`
}
