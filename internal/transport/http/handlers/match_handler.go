package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	authsvc "github.com/ivankudzin/sparkcall/backend/internal/services/auth"
	handshakesvc "github.com/ivankudzin/sparkcall/backend/internal/services/handshake"
	"github.com/ivankudzin/sparkcall/backend/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/sparkcall/backend/internal/transport/http/errors"
)

type MatchHandler struct {
	service *handshakesvc.Service
}

func NewMatchHandler(service *handshakesvc.Service) *MatchHandler {
	return &MatchHandler{service: service}
}

func (h *MatchHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.vote(w, r, true)
}

func (h *MatchHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.vote(w, r, false)
}

func (h *MatchHandler) vote(w http.ResponseWriter, r *http.Request, accept bool) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "MATCH_SERVICE_UNAVAILABLE", "match service is unavailable")
		return
	}

	matchID := chi.URLParam(r, "matchID")

	var (
		snap handshakesvc.Snapshot
		err  error
	)
	if accept {
		snap, err = h.service.Accept(r.Context(), matchID, identity.UserID)
	} else {
		snap, err = h.service.Decline(r.Context(), matchID, identity.UserID)
	}
	if err != nil {
		switch {
		case errors.Is(err, handshakesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid match request")
		case errors.Is(err, handshakesvc.ErrMatchNotFound):
			writeNotFound(w, "MATCH_NOT_FOUND", "match does not exist or was resolved")
		case errors.Is(err, handshakesvc.ErrNotParticipant):
			writeForbidden(w, "NOT_PARTICIPANT", "user is not part of this match")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to record match decision")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, MatchResponseFrom(snap, identity.UserID))
}

// MatchResponseFrom projects a handshake snapshot for one participant,
// hiding the counterpart's vote until resolution.
func MatchResponseFrom(snap handshakesvc.Snapshot, userID int64) dto.MatchResponse {
	counterpart, _ := snap.Match.Counterpart(userID)

	waitingForYou := false
	for _, id := range snap.Decision.WaitingFor {
		if id == userID {
			waitingForYou = true
		}
	}

	return dto.MatchResponse{
		MatchID:       snap.Match.ID,
		CounterpartID: counterpart,
		Score:         snap.Match.Score,
		ExpiresAt:     snap.Match.ExpiresAt,
		YourDecision:  string(snap.Decision.Votes[userID]),
		Resolution:    string(snap.Decision.Resolution),
		WaitingForYou: waitingForYou,
	}
}
