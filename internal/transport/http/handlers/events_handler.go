package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/model"
	authsvc "github.com/ivankudzin/sparkcall/backend/internal/services/auth"
)

// EventStream hands out a per-user subscription to the pushed event
// feed.
type EventStream interface {
	Subscribe(ctx context.Context, userID int64) (<-chan model.Event, func(), error)
}

// EventsHandler streams a user's events over SSE. The poll endpoint
// stays authoritative; this feed only shortens reaction time, so a
// dropped stream just means the client re-anchors from /status.
type EventsHandler struct {
	stream EventStream
	logger *zap.Logger
}

func NewEventsHandler(stream EventStream, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{stream: stream, logger: logger}
}

func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.stream == nil {
		writeInternal(w, "EVENTS_UNAVAILABLE", "event stream is unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeInternal(w, "EVENTS_UNAVAILABLE", "streaming is not supported")
		return
	}

	events, cancel, err := h.stream.Subscribe(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("event subscribe failed",
			zap.Int64("user_id", identity.UserID), zap.Error(err))
		writeInternal(w, "EVENTS_UNAVAILABLE", "event stream is unavailable")
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn("drop unencodable event",
					zap.Int64("user_id", identity.UserID), zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, payload)
			flusher.Flush()
		}
	}
}
