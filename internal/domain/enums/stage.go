package enums

// Stage is one of the three escalating phases of a call session:
// audio, video, then contact exchange.
type Stage int

const (
	StageAudio   Stage = 1
	StageVideo   Stage = 2
	StageContact Stage = 3
)

func (s Stage) Valid() bool {
	return s >= StageAudio && s <= StageContact
}

func (s Stage) Next() (Stage, bool) {
	if s == StageAudio || s == StageVideo {
		return s + 1, true
	}
	return s, false
}
