package redis

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
)

const (
	userEventsPrefix = "events:user:"
	userEventsSeqKey = "events:seq:"
)

// EventsRepo is the push half of the event synchronization layer:
// per-user pub/sub topics plus a per-user sequence counter so clients
// can discard duplicated or reordered deliveries.
type EventsRepo struct {
	client *goredis.Client
}

func NewEventsRepo(client *goredis.Client) *EventsRepo {
	return &EventsRepo{client: client}
}

func (r *EventsRepo) NextSeq(ctx context.Context, userID int64) (int64, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	if userID <= 0 {
		return 0, fmt.Errorf("invalid user id")
	}

	seq, err := r.client.Incr(ctx, userEventsSeqKey+strconv.FormatInt(userID, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment event seq: %w", err)
	}
	return seq, nil
}

func (r *EventsRepo) Publish(ctx context.Context, userID int64, payload []byte) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if userID <= 0 || len(payload) == 0 {
		return fmt.Errorf("invalid event payload")
	}

	if err := r.client.Publish(ctx, UserEventsTopic(userID), payload).Err(); err != nil {
		return fmt.Errorf("publish user event: %w", err)
	}
	return nil
}

// Subscribe hands the raw pub/sub stream to the push transport that
// fans events out to connected clients.
func (r *EventsRepo) Subscribe(ctx context.Context, userID int64) (*goredis.PubSub, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if userID <= 0 {
		return nil, fmt.Errorf("invalid user id")
	}
	return r.client.Subscribe(ctx, UserEventsTopic(userID)), nil
}

func UserEventsTopic(userID int64) string {
	return userEventsPrefix + strconv.FormatInt(userID, 10)
}
