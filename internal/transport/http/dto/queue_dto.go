package dto

import "time"

type JoinQueueRequest struct {
	Gender        string   `json:"gender"`
	GenderFilter  string   `json:"gender_filter"`
	Age           int      `json:"age"`
	AgeMin        int      `json:"age_min"`
	AgeMax        int      `json:"age_max"`
	MaxDistanceKM int      `json:"max_distance_km"`
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	Interests     []string `json:"interests"`
}

type JoinQueueResponse struct {
	OK         bool      `json:"ok"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type LeaveQueueResponse struct {
	OK      bool `json:"ok"`
	Removed bool `json:"removed"`
}

type QueueStatusResponse struct {
	Phase      string     `json:"phase"`
	WaitingFor int        `json:"waiting,omitempty"`
	EnqueuedAt *time.Time `json:"enqueued_at,omitempty"`
}
