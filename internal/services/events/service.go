package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/model"
)

// Store is the push half of the synchronization layer: per-recipient
// topics with an at-least-once, possibly duplicated, possibly
// reordered delivery promise. The Redis repo implements it.
type Store interface {
	NextSeq(ctx context.Context, userID int64) (int64, error)
	Publish(ctx context.Context, userID int64, payload []byte) error
	Subscribe(ctx context.Context, userID int64) (*goredis.PubSub, error)
}

// Publisher is what the match and session services depend on. Keeping
// it narrow lets tests capture events without Redis.
type Publisher interface {
	Publish(ctx context.Context, recipients []int64, event model.Event)
}

type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Publish stamps the event per recipient with a fresh sequence number
// and timestamp and pushes it. Delivery problems are logged, never
// returned: the counterpart made no request that could carry an error,
// and the poll endpoint remains the authoritative fallback.
func (s *Service) Publish(ctx context.Context, recipients []int64, event model.Event) {
	if s.store == nil {
		return
	}

	for _, userID := range recipients {
		if userID <= 0 {
			continue
		}

		stamped := event
		stamped.At = s.now().UTC()

		seq, err := s.store.NextSeq(ctx, userID)
		if err != nil {
			s.logger.Warn("event seq allocation failed",
				zap.Int64("user_id", userID),
				zap.String("kind", string(event.Kind)),
				zap.Error(err),
			)
			continue
		}
		stamped.Seq = seq

		payload, err := json.Marshal(stamped)
		if err != nil {
			s.logger.Error("event marshal failed",
				zap.String("kind", string(event.Kind)),
				zap.Error(err),
			)
			continue
		}

		if err := s.store.Publish(ctx, userID, payload); err != nil {
			s.logger.Warn("event publish failed",
				zap.Int64("user_id", userID),
				zap.String("kind", string(event.Kind)),
				zap.Error(err),
			)
		}
	}
}

// Subscribe decodes a recipient's push stream into typed events. The
// push transport (websocket, SSE, long poll) consumes this; events
// with a sequence at or below the consumer's last seen one should be
// discarded by the consumer.
func (s *Service) Subscribe(ctx context.Context, userID int64) (<-chan model.Event, func(), error) {
	if s.store == nil {
		return nil, nil, fmt.Errorf("event store is nil")
	}

	pubsub, err := s.store.Subscribe(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan model.Event, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var event model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warn("drop undecodable event",
					zap.Int64("user_id", userID),
					zap.Error(err),
				)
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = pubsub.Close() }
	return out, cancel, nil
}
