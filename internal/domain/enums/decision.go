package enums

// Vote is a participant's choice at a decision gate. Accept/decline on
// the match handshake and continue/end at a stage boundary are the
// same protocol choice; only the client-facing wording differs.
type Vote string

const (
	VoteNone     Vote = "none"
	VoteContinue Vote = "continue"
	VoteEnd      Vote = "end"
)

// Resolution is the final outcome of a decision gate. It transitions
// away from pending exactly once.
type Resolution string

const (
	ResolutionPending   Resolution = "pending"
	ResolutionAdvance   Resolution = "advance"
	ResolutionTerminate Resolution = "terminate"
	ResolutionTimeout   Resolution = "timeout"
)

func (r Resolution) Decided() bool {
	return r != ResolutionPending
}
