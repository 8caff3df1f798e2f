package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/enums"
	authsvc "github.com/ivankudzin/sparkcall/backend/internal/services/auth"
	sessionsvc "github.com/ivankudzin/sparkcall/backend/internal/services/session"
	"github.com/ivankudzin/sparkcall/backend/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/sparkcall/backend/internal/transport/http/errors"
)

type SessionHandler struct {
	service *sessionsvc.Service
}

func NewSessionHandler(service *sessionsvc.Service) *SessionHandler {
	return &SessionHandler{service: service}
}

func (h *SessionHandler) Decision(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "SESSION_SERVICE_UNAVAILABLE", "session service is unavailable")
		return
	}

	var req dto.SessionDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	vote := enums.Vote(req.Vote)
	if vote != enums.VoteContinue && vote != enums.VoteEnd {
		writeBadRequest(w, "VALIDATION_ERROR", "vote must be continue or end")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	snap, err := h.service.SubmitDecision(r.Context(), sessionID, identity.UserID, enums.Stage(req.Stage), vote)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, SessionResponseFrom(snap, identity.UserID))
}

func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "SESSION_SERVICE_UNAVAILABLE", "session service is unavailable")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := h.service.End(r.Context(), sessionID, identity.UserID); err != nil {
		h.writeError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, dto.OKResponse{OK: true})
}

func (h *SessionHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "SESSION_SERVICE_UNAVAILABLE", "session service is unavailable")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := h.service.Acknowledge(r.Context(), sessionID, identity.UserID); err != nil {
		h.writeError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, dto.OKResponse{OK: true})
}

func (h *SessionHandler) Contact(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "SESSION_SERVICE_UNAVAILABLE", "session service is unavailable")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	card, err := h.service.ContactCard(r.Context(), sessionID, identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, dto.ContactCardResponse{
		UserID:      card.UserID,
		DisplayName: card.DisplayName,
		Telegram:    card.Telegram,
		Phone:       card.Phone,
		Instagram:   card.Instagram,
	})
}

func (h *SessionHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessionsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid session request")
	case errors.Is(err, sessionsvc.ErrSessionNotFound):
		writeNotFound(w, "SESSION_NOT_FOUND", "session does not exist or already ended")
	case errors.Is(err, sessionsvc.ErrNotParticipant):
		writeForbidden(w, "NOT_PARTICIPANT", "user is not part of this session")
	case errors.Is(err, sessionsvc.ErrStageMismatch):
		writeConflict(w, "STAGE_MISMATCH", "decision stage does not match the current stage")
	case errors.Is(err, sessionsvc.ErrDecisionNotOpen):
		writeConflict(w, "DECISION_NOT_OPEN", "no decision is open for this stage")
	case errors.Is(err, sessionsvc.ErrContactLocked):
		writeForbidden(w, "CONTACT_LOCKED", "contact exchange is not unlocked")
	default:
		writeInternal(w, "INTERNAL_ERROR", "session operation failed")
	}
}

// SessionResponseFrom projects a session snapshot for one participant.
func SessionResponseFrom(snap sessionsvc.Snapshot, userID int64) dto.SessionResponse {
	counterpart, _ := snap.Session.Counterpart(userID)

	resp := dto.SessionResponse{
		SessionID:      snap.Session.ID,
		CounterpartID:  counterpart,
		Stage:          int(snap.Session.Stage),
		StageExpiresAt: snap.Session.StageExpiresAt,
		Status:         string(snap.Session.Status),
		EndReason:      string(snap.Session.EndReason),
	}
	if snap.Session.Status == enums.SessionStatusActive {
		resp.ChannelID = snap.Session.ChannelID
	}
	if d := snap.Decision; d != nil {
		resp.DecisionOpen = true
		expiry := d.ExpiresAt
		resp.DecisionExpiry = &expiry
		resp.YourVote = string(d.Votes[userID])
	}
	return resp
}
