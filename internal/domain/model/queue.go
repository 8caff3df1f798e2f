package model

import (
	"time"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/enums"
)

type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Preferences is the snapshot a user enqueues with. It is frozen at
// enqueue time; later profile edits do not affect an entry already in
// the queue.
type Preferences struct {
	Gender        enums.Gender       `json:"gender"`
	GenderFilter  enums.GenderFilter `json:"gender_filter"`
	AgeMin        int                `json:"age_min"`
	AgeMax        int                `json:"age_max"`
	Age           int                `json:"age"`
	MaxDistanceKM int                `json:"max_distance_km"`
	Location      Location           `json:"location"`
	Interests     []string           `json:"interests"`
}

type QueueEntry struct {
	UserID     int64       `json:"user_id"`
	Prefs      Preferences `json:"prefs"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}
