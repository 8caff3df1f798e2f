package dto

type ConfigResponse struct {
	HandshakeTTLSec   int64            `json:"handshake_ttl_sec"`
	DecisionTTLSec    int64            `json:"decision_ttl_sec"`
	StageDurationsSec map[string]int64 `json:"stage_durations_sec"`
	ContactWindowSec  int64            `json:"contact_window_sec"`
	CooldownSec       int64            `json:"cooldown_sec"`
	Filters           ConfigFilters    `json:"filters"`
}

type ConfigFilters struct {
	AgeMin        int `json:"age_min"`
	AgeMax        int `json:"age_max"`
	MaxDistanceKM int `json:"max_distance_km"`
}
