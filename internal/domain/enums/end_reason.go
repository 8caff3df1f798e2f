package enums

import "strconv"

// EndReason tells the surviving participant why a match or session
// ended, so the UI can distinguish "they left" from "nobody decided in
// time" from "their media device failed".
type EndReason string

const (
	EndReasonCompleted EndReason = "completed"
	EndReasonTimedOut  EndReason = "timed-out"
)

func EndReasonDeclinedBy(userID int64) EndReason {
	return EndReason("declined-by-" + strconv.FormatInt(userID, 10))
}

func EndReasonTransportFailed(userID int64) EndReason {
	return EndReason("transport-failed-" + strconv.FormatInt(userID, 10))
}
