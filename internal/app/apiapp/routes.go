package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/sparkcall/backend/internal/config"
	authsvc "github.com/ivankudzin/sparkcall/backend/internal/services/auth"
	handshakesvc "github.com/ivankudzin/sparkcall/backend/internal/services/handshake"
	pairingsvc "github.com/ivankudzin/sparkcall/backend/internal/services/pairing"
	queuesvc "github.com/ivankudzin/sparkcall/backend/internal/services/queue"
	sessionsvc "github.com/ivankudzin/sparkcall/backend/internal/services/session"
	"github.com/ivankudzin/sparkcall/backend/internal/transport/http/handlers"
)

type RouteDependencies struct {
	AuthService      *authsvc.Service
	QueueService     *queuesvc.Service
	PairingEngine    *pairingsvc.Engine
	HandshakeService *handshakesvc.Service
	SessionService   *sessionsvc.Service
	Preferences      handlers.PreferenceSource
	SessionCounter   handlers.SessionCounter
	EventStream      handlers.EventStream
	Logger           *zap.Logger
	Config           config.Config
}

func RegisterRoutes(r chi.Router, deps RouteDependencies) {
	authHandler := handlers.NewAuthHandler(deps.AuthService)
	healthHandler := handlers.NewHealthHandler()
	configHandler := handlers.NewConfigHandler(deps.Config.Match)
	queueHandler := handlers.NewQueueHandler(deps.QueueService, deps.PairingEngine, deps.Preferences, deps.Config.Match, deps.Logger)
	matchHandler := handlers.NewMatchHandler(deps.HandshakeService)
	sessionHandler := handlers.NewSessionHandler(deps.SessionService)
	statusHandler := handlers.NewStatusHandler(deps.QueueService, deps.HandshakeService, deps.SessionService)
	statsHandler := handlers.NewStatsHandler(deps.SessionCounter, deps.Logger)
	eventsHandler := handlers.NewEventsHandler(deps.EventStream, deps.Logger)

	authMW := AuthMiddleware(deps.AuthService, deps.Logger)

	r.Get("/healthz", healthHandler.Get)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/telegram", authHandler.Telegram)
		r.Post("/refresh", authHandler.Refresh)
		r.With(authMW).Post("/logout", authHandler.Logout)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/config", configHandler.Handle)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/telegram", authHandler.Telegram)
			r.Post("/refresh", authHandler.Refresh)
			r.With(authMW).Post("/logout", authHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(authMW)

			r.Get("/status", statusHandler.Handle)
			r.Get("/stats", statsHandler.Handle)
			r.Get("/events", eventsHandler.Stream)

			r.Route("/queue", func(r chi.Router) {
				r.Post("/join", queueHandler.Join)
				r.Post("/leave", queueHandler.Leave)
				r.Get("/status", queueHandler.Status)
			})

			r.Route("/matches/{matchID}", func(r chi.Router) {
				r.Post("/accept", matchHandler.Accept)
				r.Post("/decline", matchHandler.Decline)
			})

			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Post("/decision", sessionHandler.Decision)
				r.Post("/end", sessionHandler.End)
				r.Post("/ack", sessionHandler.Acknowledge)
				r.Get("/contact", sessionHandler.Contact)
			})
		})
	})
}
