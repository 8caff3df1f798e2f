package enums

type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusTerminated SessionStatus = "terminated"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// GenderFilter is a queue preference: which genders a user is willing
// to be paired with.
type GenderFilter string

const (
	GenderFilterAny    GenderFilter = "any"
	GenderFilterMale   GenderFilter = "male"
	GenderFilterFemale GenderFilter = "female"
)

func ParseGender(raw string) (Gender, bool) {
	switch Gender(raw) {
	case GenderMale, GenderFemale:
		return Gender(raw), true
	default:
		return "", false
	}
}

// ParseGenderFilter treats an empty value as no filter.
func ParseGenderFilter(raw string) (GenderFilter, bool) {
	if raw == "" {
		return GenderFilterAny, true
	}
	switch GenderFilter(raw) {
	case GenderFilterAny, GenderFilterMale, GenderFilterFemale:
		return GenderFilter(raw), true
	default:
		return "", false
	}
}

func (f GenderFilter) Allows(g Gender) bool {
	switch f {
	case GenderFilterAny:
		return true
	case GenderFilterMale:
		return g == GenderMale
	case GenderFilterFemale:
		return g == GenderFemale
	default:
		return false
	}
}
