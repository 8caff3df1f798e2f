package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/model"
)

var ErrProfileNotFound = errors.New("profile not found")

type ProfileRepo struct {
	pool *pgxpool.Pool
}

// EligibilityRecord is the slice of a profile the queue gate needs:
// completed contact info and an active plus tier.
type EligibilityRecord struct {
	UserID          int64
	ContactComplete bool
	PlusActive      bool
}

type PreferenceRecord struct {
	UserID        int64
	Gender        string
	GenderFilter  string
	Age           int
	AgeMin        int
	AgeMax        int
	MaxDistanceKM int
	Lat           float64
	Lon           float64
	Interests     []string
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

func (r *ProfileRepo) GetEligibility(ctx context.Context, userID int64) (EligibilityRecord, error) {
	if r.pool == nil {
		return EligibilityRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return EligibilityRecord{}, fmt.Errorf("invalid user id")
	}

	const query = `
SELECT
	p.user_id,
	(COALESCE(p.telegram, '') <> '' OR COALESCE(p.phone, '') <> '' OR COALESCE(p.instagram, '') <> '') AS contact_complete,
	COALESCE(p.plus_until > NOW(), FALSE) AS plus_active
FROM profiles p
WHERE p.user_id = $1
`

	var rec EligibilityRecord
	err := r.pool.QueryRow(ctx, query, userID).Scan(&rec.UserID, &rec.ContactComplete, &rec.PlusActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EligibilityRecord{}, ErrProfileNotFound
		}
		return EligibilityRecord{}, fmt.Errorf("get eligibility: %w", err)
	}

	return rec, nil
}

func (r *ProfileRepo) GetPreferences(ctx context.Context, userID int64) (PreferenceRecord, error) {
	if r.pool == nil {
		return PreferenceRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return PreferenceRecord{}, fmt.Errorf("invalid user id")
	}

	const query = `
SELECT
	p.user_id,
	COALESCE(p.gender, ''),
	COALESCE(p.gender_filter, 'any'),
	COALESCE(DATE_PART('year', AGE(p.birthdate))::int, 0),
	COALESCE(p.age_min, 0),
	COALESCE(p.age_max, 0),
	COALESCE(p.max_distance_km, 0),
	COALESCE(p.last_lat, 0),
	COALESCE(p.last_lon, 0),
	COALESCE(p.interests, '{}')
FROM profiles p
WHERE p.user_id = $1
`

	var rec PreferenceRecord
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&rec.UserID,
		&rec.Gender,
		&rec.GenderFilter,
		&rec.Age,
		&rec.AgeMin,
		&rec.AgeMax,
		&rec.MaxDistanceKM,
		&rec.Lat,
		&rec.Lon,
		&rec.Interests,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PreferenceRecord{}, ErrProfileNotFound
		}
		return PreferenceRecord{}, fmt.Errorf("get preferences: %w", err)
	}

	return rec, nil
}

// GetContactCard reads the fields disclosed to the counterpart at
// stage 3. The caller is responsible for checking the session has
// actually reached the contact stage.
func (r *ProfileRepo) GetContactCard(ctx context.Context, userID int64) (model.ContactCard, error) {
	if r.pool == nil {
		return model.ContactCard{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return model.ContactCard{}, fmt.Errorf("invalid user id")
	}

	const query = `
SELECT
	p.user_id,
	COALESCE(p.display_name, ''),
	COALESCE(p.telegram, ''),
	COALESCE(p.phone, ''),
	COALESCE(p.instagram, '')
FROM profiles p
WHERE p.user_id = $1
`

	var card model.ContactCard
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&card.UserID,
		&card.DisplayName,
		&card.Telegram,
		&card.Phone,
		&card.Instagram,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ContactCard{}, ErrProfileNotFound
		}
		return model.ContactCard{}, fmt.Errorf("get contact card: %w", err)
	}

	return card, nil
}
