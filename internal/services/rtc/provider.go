package rtc

import (
	"context"
	"errors"
	"fmt"
)

// Tracks selects which media tracks a binding carries. Stage 1 is
// audio-only; stage 2 enables video.
type Tracks struct {
	Audio bool
	Video bool
}

// Binding is the opaque per-participant handle issued by the media
// provider. The session service scopes it exactly to the stages that
// need live media and releases it on every exit path.
type Binding interface {
	ChannelID() string
	UserID() int64
	SetTrackEnabled(ctx context.Context, track string, enabled bool) error
	Close(ctx context.Context) error
}

// Provider is the external audio/video transport SDK. It is consumed
// here, never implemented; the real integration lives outside this
// module.
type Provider interface {
	Bind(ctx context.Context, channelID string, userID int64, tracks Tracks) (Binding, error)
	Rebind(ctx context.Context, binding Binding, tracks Tracks) (Binding, error)
}

// FailureKind classifies acquisition failures. Each maps to a distinct
// user-actionable message; none is silently retried.
type FailureKind string

const (
	FailurePermissionDenied   FailureKind = "permission_denied"
	FailureDeviceNotFound     FailureKind = "device_not_found"
	FailureDeviceBusy         FailureKind = "device_busy"
	FailureNetworkUnavailable FailureKind = "network_unavailable"
)

type AcquisitionError struct {
	Kind   FailureKind
	UserID int64
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition failed for user %d: %s", e.UserID, e.Kind)
}

func AsAcquisitionError(err error) (*AcquisitionError, bool) {
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr, true
	}
	return nil, false
}
