package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/sparkcall/backend/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/sparkcall/backend/internal/transport/http/errors"
)

// SessionCounter reports how many archived sessions started after a
// point in time.
type SessionCounter interface {
	CountSessionsSince(ctx context.Context, since time.Time) (int64, error)
}

// StatsHandler serves aggregate activity counters from the archive.
type StatsHandler struct {
	counter SessionCounter
	now     func() time.Time
	logger  *zap.Logger
}

func NewStatsHandler(counter SessionCounter, logger *zap.Logger) *StatsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsHandler{counter: counter, now: time.Now, logger: logger}
}

func (h *StatsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.counter == nil {
		httperrors.Write(w, http.StatusServiceUnavailable,
			httperrors.APIError{Code: "STATS_UNAVAILABLE", Message: "session archive is unavailable"})
		return
	}

	now := h.now()
	day, err := h.counter.CountSessionsSince(r.Context(), now.Add(-24*time.Hour))
	if err != nil {
		h.logger.Error("session count failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to load stats")
		return
	}
	week, err := h.counter.CountSessionsSince(r.Context(), now.Add(-7*24*time.Hour))
	if err != nil {
		h.logger.Error("session count failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to load stats")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.StatsResponse{
		SessionsLast24h: day,
		SessionsLast7d:  week,
	})
}
