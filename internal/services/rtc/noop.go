package rtc

import "context"

// NoopProvider satisfies Provider without touching any real media
// backend. Used in dev environments and as the default when no SDK is
// wired in.
type NoopProvider struct{}

type noopBinding struct {
	channelID string
	userID    int64
}

func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

func (*NoopProvider) Bind(_ context.Context, channelID string, userID int64, _ Tracks) (Binding, error) {
	return &noopBinding{channelID: channelID, userID: userID}, nil
}

func (*NoopProvider) Rebind(_ context.Context, binding Binding, _ Tracks) (Binding, error) {
	return binding, nil
}

func (b *noopBinding) ChannelID() string { return b.channelID }

func (b *noopBinding) UserID() int64 { return b.userID }

func (b *noopBinding) SetTrackEnabled(context.Context, string, bool) error { return nil }

func (b *noopBinding) Close(context.Context) error { return nil }
