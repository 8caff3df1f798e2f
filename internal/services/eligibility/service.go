package eligibility

import (
	"context"
	"errors"
	"fmt"

	"github.com/ivankudzin/sparkcall/backend/internal/repo/postgres"
)

// Reason codes returned to clients when queueing is refused.
const (
	ReasonNoProfile         = "profile_missing"
	ReasonIncompleteContact = "contact_info_incomplete"
	ReasonPlusRequired      = "plus_required"
)

type ProfileStore interface {
	GetEligibility(ctx context.Context, userID int64) (postgres.EligibilityRecord, error)
}

// Service answers "may this user enter the matching queue". Contact
// info must be filled so stage 3 has something to disclose; the plus
// gate is a product toggle, off by default.
type Service struct {
	profiles    ProfileStore
	requirePlus bool
}

func NewService(profiles ProfileStore, requirePlus bool) *Service {
	return &Service{profiles: profiles, requirePlus: requirePlus}
}

func (s *Service) Check(ctx context.Context, userID int64) (bool, string, error) {
	if s.profiles == nil {
		return false, "", fmt.Errorf("profile store is not configured")
	}

	rec, err := s.profiles.GetEligibility(ctx, userID)
	if err != nil {
		if errors.Is(err, postgres.ErrProfileNotFound) {
			return false, ReasonNoProfile, nil
		}
		return false, "", fmt.Errorf("eligibility lookup: %w", err)
	}

	if !rec.ContactComplete {
		return false, ReasonIncompleteContact, nil
	}
	if s.requirePlus && !rec.PlusActive {
		return false, ReasonPlusRequired, nil
	}

	return true, "", nil
}

// AllowAll skips the profile gate entirely. Wired in when the service
// runs without postgres.
type AllowAll struct{}

func (AllowAll) Check(context.Context, int64) (bool, string, error) {
	return true, "", nil
}
