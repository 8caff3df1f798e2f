package handlers

import (
	"net/http"

	authsvc "github.com/ivankudzin/sparkcall/backend/internal/services/auth"
	handshakesvc "github.com/ivankudzin/sparkcall/backend/internal/services/handshake"
	queuesvc "github.com/ivankudzin/sparkcall/backend/internal/services/queue"
	sessionsvc "github.com/ivankudzin/sparkcall/backend/internal/services/session"
	"github.com/ivankudzin/sparkcall/backend/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/sparkcall/backend/internal/transport/http/errors"
)

// StatusHandler serves the authoritative poll endpoint. Clients that
// miss pushed events re-anchor their full state from here.
type StatusHandler struct {
	queue    *queuesvc.Service
	matches  *handshakesvc.Service
	sessions *sessionsvc.Service
}

func NewStatusHandler(queue *queuesvc.Service, matches *handshakesvc.Service, sessions *sessionsvc.Service) *StatusHandler {
	return &StatusHandler{queue: queue, matches: matches, sessions: sessions}
}

func (h *StatusHandler) Handle(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.queue == nil || h.matches == nil || h.sessions == nil {
		writeInternal(w, "STATUS_UNAVAILABLE", "status service is unavailable")
		return
	}

	// Session first, then match, then queue: the registries are
	// consulted most-advanced-first so a user mid-transition reports
	// the furthest state reached.
	if snap, ok := h.sessions.ForUser(identity.UserID); ok {
		session := SessionResponseFrom(snap, identity.UserID)
		httperrors.Write(w, http.StatusOK, dto.StatusResponse{
			Phase:   string(queuesvc.PhaseInSession),
			Session: &session,
		})
		return
	}

	if snap, ok := h.matches.ForUser(identity.UserID); ok {
		match := MatchResponseFrom(snap, identity.UserID)
		httperrors.Write(w, http.StatusOK, dto.StatusResponse{
			Phase: string(queuesvc.PhaseMatched),
			Match: &match,
		})
		return
	}

	phase := h.queue.Membership(identity.UserID)
	resp := dto.StatusResponse{Phase: string(phase)}
	if entry, ok := h.queue.Entry(identity.UserID); ok {
		enqueuedAt := entry.EnqueuedAt
		resp.Queue = &dto.QueueStatusResponse{
			Phase:      string(phase),
			WaitingFor: h.queue.Size(),
			EnqueuedAt: &enqueuedAt,
		}
	}

	httperrors.Write(w, http.StatusOK, resp)
}
