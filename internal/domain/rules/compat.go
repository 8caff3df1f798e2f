package rules

import (
	"math"
	"time"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/model"
)

const (
	baseScore         = 40
	proximityMaxScore = 30
	scorePerInterest  = 10
	waitBonusMaxScore = 10
)

type ScoreConfig struct {
	InterestWeightCap  int
	WaitBonusPerMinute float64
}

// Compatible applies the hard gates: gender preference in both
// directions, mutual age-range fit, and both parties' max-distance
// limits. Entries failing any gate are excluded, not scored.
func Compatible(a, b model.Preferences) bool {
	if !a.GenderFilter.Allows(b.Gender) || !b.GenderFilter.Allows(a.Gender) {
		return false
	}
	if b.Age < a.AgeMin || b.Age > a.AgeMax {
		return false
	}
	if a.Age < b.AgeMin || a.Age > b.AgeMax {
		return false
	}

	dist := DistanceKM(a.Location, b.Location)
	if a.MaxDistanceKM > 0 && dist > float64(a.MaxDistanceKM) {
		return false
	}
	if b.MaxDistanceKM > 0 && dist > float64(b.MaxDistanceKM) {
		return false
	}

	return true
}

// Score rates an already-compatible pair 0-100: proximity relative to
// the tighter distance limit, shared interests up to the configured
// cap, and a small bonus for how long the candidate has waited so old
// entries do not starve.
func Score(a, b model.Preferences, candidateEnqueuedAt, now time.Time, cfg ScoreConfig) int {
	score := float64(baseScore)

	limit := tighterDistanceLimit(a.MaxDistanceKM, b.MaxDistanceKM)
	if limit > 0 {
		dist := DistanceKM(a.Location, b.Location)
		ratio := dist / float64(limit)
		if ratio > 1 {
			ratio = 1
		}
		score += proximityMaxScore * (1 - ratio)
	} else {
		score += proximityMaxScore
	}

	overlap := interestOverlap(a.Interests, b.Interests) * scorePerInterest
	if cfg.InterestWeightCap > 0 && overlap > cfg.InterestWeightCap {
		overlap = cfg.InterestWeightCap
	}
	score += float64(overlap)

	if cfg.WaitBonusPerMinute > 0 && now.After(candidateEnqueuedAt) {
		bonus := cfg.WaitBonusPerMinute * now.Sub(candidateEnqueuedAt).Minutes()
		if bonus > waitBonusMaxScore {
			bonus = waitBonusMaxScore
		}
		score += bonus
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(math.Round(score))
}

func DistanceKM(a, b model.Location) float64 {
	const earthRadiusKM = 6371.0

	toRad := func(v float64) float64 { return v * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKM * c
}

func tighterDistanceLimit(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

func interestOverlap(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(a))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	count := 0
	for _, v := range b {
		if _, ok := seen[v]; ok {
			count++
		}
	}
	return count
}
