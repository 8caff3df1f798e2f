package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ivankudzin/sparkcall/backend/internal/config"
	"github.com/ivankudzin/sparkcall/backend/internal/domain/enums"
	"github.com/ivankudzin/sparkcall/backend/internal/domain/model"
	"github.com/ivankudzin/sparkcall/backend/internal/repo/postgres"
	authsvc "github.com/ivankudzin/sparkcall/backend/internal/services/auth"
	pairingsvc "github.com/ivankudzin/sparkcall/backend/internal/services/pairing"
	queuesvc "github.com/ivankudzin/sparkcall/backend/internal/services/queue"
	"github.com/ivankudzin/sparkcall/backend/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/sparkcall/backend/internal/transport/http/errors"
)

// PreferenceSource serves stored profile preferences used as defaults
// for join-request fields the client omitted.
type PreferenceSource interface {
	GetPreferences(ctx context.Context, userID int64) (postgres.PreferenceRecord, error)
}

type QueueHandler struct {
	queue   *queuesvc.Service
	pairing *pairingsvc.Engine
	prefs   PreferenceSource
	match   config.MatchConfig
	logger  *zap.Logger
}

func NewQueueHandler(queue *queuesvc.Service, pairing *pairingsvc.Engine, prefs PreferenceSource, match config.MatchConfig, logger *zap.Logger) *QueueHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueHandler{queue: queue, pairing: pairing, prefs: prefs, match: match, logger: logger}
}

func (h *QueueHandler) Join(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.queue == nil {
		writeInternal(w, "QUEUE_SERVICE_UNAVAILABLE", "queue service is unavailable")
		return
	}

	var req dto.JoinQueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	prefs, ok := h.buildPreferences(r.Context(), identity.UserID, req)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid queue preferences")
		return
	}

	entry, err := h.queue.Enqueue(r.Context(), identity.UserID, prefs)
	if err != nil {
		// Re-joining while queued is a no-op that reports the existing
		// entry, so clients can retry join blindly after a reconnect.
		if errors.Is(err, queuesvc.ErrAlreadyQueued) {
			if existing, ok := h.queue.Entry(identity.UserID); ok {
				httperrors.Write(w, http.StatusOK, dto.JoinQueueResponse{OK: true, EnqueuedAt: existing.EnqueuedAt})
				return
			}
		}
		switch {
		case errors.Is(err, queuesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid queue request")
		case errors.Is(err, queuesvc.ErrAlreadyQueued):
			writeConflict(w, "ALREADY_QUEUED", "user is already waiting in the queue")
		case errors.Is(err, queuesvc.ErrAlreadyInSession):
			writeConflict(w, "ALREADY_IN_SESSION", "user has a pending match or active session")
		case errors.Is(err, queuesvc.ErrNotEligible):
			writeForbidden(w, "NOT_ELIGIBLE", "profile does not meet queue requirements")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to join queue")
		}
		return
	}

	// Try to pair right away; a miss just leaves the user waiting for
	// the next arrival or sweep.
	if h.pairing != nil {
		if _, err := h.pairing.PairUser(r.Context(), identity.UserID); err != nil {
			h.logger.Warn("pairing on join failed", zap.Int64("user_id", identity.UserID), zap.Error(err))
		}
	}

	httperrors.Write(w, http.StatusOK, dto.JoinQueueResponse{OK: true, EnqueuedAt: entry.EnqueuedAt})
}

func (h *QueueHandler) Leave(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.queue == nil {
		writeInternal(w, "QUEUE_SERVICE_UNAVAILABLE", "queue service is unavailable")
		return
	}

	removed := h.queue.Membership(identity.UserID) == queuesvc.PhaseQueued
	h.queue.Dequeue(identity.UserID)

	httperrors.Write(w, http.StatusOK, dto.LeaveQueueResponse{OK: true, Removed: removed})
}

func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.queue == nil {
		writeInternal(w, "QUEUE_SERVICE_UNAVAILABLE", "queue service is unavailable")
		return
	}

	resp := dto.QueueStatusResponse{Phase: string(h.queue.Membership(identity.UserID))}
	if entry, ok := h.queue.Entry(identity.UserID); ok {
		enqueuedAt := entry.EnqueuedAt
		resp.EnqueuedAt = &enqueuedAt
		resp.WaitingFor = h.queue.Size()
	}

	httperrors.Write(w, http.StatusOK, resp)
}

// buildPreferences merges the request with stored profile preferences
// and validates the result against configured bounds. Request fields
// win, then the profile, then config defaults. A failed profile lookup
// degrades to config defaults rather than refusing the join.
func (h *QueueHandler) buildPreferences(ctx context.Context, userID int64, req dto.JoinQueueRequest) (model.Preferences, bool) {
	if h.prefs != nil {
		stored, err := h.prefs.GetPreferences(ctx, userID)
		switch {
		case err == nil:
			req = fillFromProfile(req, stored)
		case !errors.Is(err, postgres.ErrProfileNotFound):
			h.logger.Warn("profile preferences lookup failed",
				zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	gender, ok := enums.ParseGender(req.Gender)
	if !ok {
		return model.Preferences{}, false
	}
	filter, ok := enums.ParseGenderFilter(req.GenderFilter)
	if !ok {
		return model.Preferences{}, false
	}

	if req.Age < h.match.DefaultAgeMin || req.Age > h.match.DefaultAgeMax {
		return model.Preferences{}, false
	}

	ageMin := req.AgeMin
	if ageMin == 0 {
		ageMin = h.match.DefaultAgeMin
	}
	ageMax := req.AgeMax
	if ageMax == 0 {
		ageMax = h.match.DefaultAgeMax
	}
	if ageMin < h.match.DefaultAgeMin || ageMax > h.match.DefaultAgeMax || ageMin > ageMax {
		return model.Preferences{}, false
	}

	maxDistance := req.MaxDistanceKM
	if maxDistance == 0 {
		maxDistance = h.match.DefaultMaxDistanceKM
	}
	if maxDistance < 0 || maxDistance > h.match.AbsoluteMaxDistanceKM {
		return model.Preferences{}, false
	}

	if req.Lat < -90 || req.Lat > 90 || req.Lon < -180 || req.Lon > 180 {
		return model.Preferences{}, false
	}

	return model.Preferences{
		Gender:        gender,
		GenderFilter:  filter,
		Age:           req.Age,
		AgeMin:        ageMin,
		AgeMax:        ageMax,
		MaxDistanceKM: maxDistance,
		Location:      model.Location{Lat: req.Lat, Lon: req.Lon},
		Interests:     req.Interests,
	}, true
}

// fillFromProfile copies stored preferences into request fields the
// client left at their zero value.
func fillFromProfile(req dto.JoinQueueRequest, stored postgres.PreferenceRecord) dto.JoinQueueRequest {
	if req.Gender == "" {
		req.Gender = stored.Gender
	}
	if req.GenderFilter == "" {
		req.GenderFilter = stored.GenderFilter
	}
	if req.Age == 0 {
		req.Age = stored.Age
	}
	if req.AgeMin == 0 {
		req.AgeMin = stored.AgeMin
	}
	if req.AgeMax == 0 {
		req.AgeMax = stored.AgeMax
	}
	if req.MaxDistanceKM == 0 {
		req.MaxDistanceKM = stored.MaxDistanceKM
	}
	if req.Lat == 0 && req.Lon == 0 {
		req.Lat = stored.Lat
		req.Lon = stored.Lon
	}
	if len(req.Interests) == 0 {
		req.Interests = stored.Interests
	}
	return req
}
