package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ivankudzin/sparkcall/backend/internal/config"
	"github.com/ivankudzin/sparkcall/backend/internal/domain/rules"
	"github.com/ivankudzin/sparkcall/backend/internal/jobs/sweeper"
	pgrepo "github.com/ivankudzin/sparkcall/backend/internal/repo/postgres"
	redrepo "github.com/ivankudzin/sparkcall/backend/internal/repo/redis"
	authsvc "github.com/ivankudzin/sparkcall/backend/internal/services/auth"
	eligibilitysvc "github.com/ivankudzin/sparkcall/backend/internal/services/eligibility"
	eventssvc "github.com/ivankudzin/sparkcall/backend/internal/services/events"
	handshakesvc "github.com/ivankudzin/sparkcall/backend/internal/services/handshake"
	pairingsvc "github.com/ivankudzin/sparkcall/backend/internal/services/pairing"
	queuesvc "github.com/ivankudzin/sparkcall/backend/internal/services/queue"
	"github.com/ivankudzin/sparkcall/backend/internal/services/rtc"
	sessionsvc "github.com/ivankudzin/sparkcall/backend/internal/services/session"
	"github.com/ivankudzin/sparkcall/backend/internal/transport/http/handlers"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	sweeper    *sweeper.Job
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	return NewWithProvider(ctx, cfg, log, rtc.NewNoopProvider())
}

// NewWithProvider wires the application around an externally supplied
// media provider.
func NewWithProvider(ctx context.Context, cfg config.Config, log *zap.Logger, provider rtc.Provider) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("media provider is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	sessionRepo := redrepo.NewSessionRepo(redisClient)
	cooldownRepo := redrepo.NewCooldownRepo(redisClient)
	eventsRepo := redrepo.NewEventsRepo(redisClient)
	profileRepo := pgrepo.NewProfileRepo(pool)
	archiveRepo := pgrepo.NewArchiveRepo(pool)

	jwtManager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL)
	authService := authsvc.NewService(jwtManager, sessionRepo, cfg.Auth.RefreshTTL)

	eventsService := eventssvc.NewService(eventsRepo, log)

	// Without postgres there are no profiles to gate on; everyone may
	// queue so the matching loop stays usable in dev setups.
	var eligibility queuesvc.Eligibility
	var preferences handlers.PreferenceSource
	var sessionCounter handlers.SessionCounter
	if pool != nil {
		eligibility = eligibilitysvc.NewService(profileRepo, false)
		preferences = profileRepo
		sessionCounter = archiveRepo
	} else {
		eligibility = eligibilitysvc.AllowAll{}
	}
	queueService := queuesvc.NewService(eligibility)

	sessionService := sessionsvc.NewService(sessionsvc.Dependencies{
		Provider:   provider,
		Publisher:  eventsService,
		Membership: queueService,
		Archive:    archiveRepo,
		Contacts:   profileRepo,
		Logger:     log,
	}, sessionsvc.Config{
		DecisionTTL:    cfg.Match.DecisionTTL,
		Stage1Duration: cfg.Match.Stage1Duration,
		Stage2Duration: cfg.Match.Stage2Duration,
		ContactWindow:  cfg.Match.ContactWindow,
	})

	handshakeService := handshakesvc.NewService(handshakesvc.Dependencies{
		Sessions:   sessionService,
		Membership: queueService,
		Cooldowns:  cooldownRepo,
		Archive:    archiveRepo,
		Publisher:  eventsService,
		Logger:     log,
	}, handshakesvc.Config{
		HandshakeTTL:    cfg.Match.HandshakeTTL,
		DeclineCooldown: cfg.Match.DeclineCooldown,
	})

	pairingEngine := pairingsvc.NewEngine(pairingsvc.Dependencies{
		Queue:     queueService,
		Cooldowns: cooldownRepo,
		Matches:   handshakeService,
		Logger:    log,
	}, rules.ScoreConfig{
		InterestWeightCap:  cfg.Match.InterestWeightCap,
		WaitBonusPerMinute: cfg.Match.WaitBonusPerMinute,
	})

	sweepJob := sweeper.New(pairingEngine, cfg.Match.SweepInterval, log, handshakeService, sessionService)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	RegisterRoutes(r, RouteDependencies{
		AuthService:      authService,
		QueueService:     queueService,
		PairingEngine:    pairingEngine,
		HandshakeService: handshakeService,
		SessionService:   sessionService,
		Preferences:      preferences,
		SessionCounter:   sessionCounter,
		EventStream:      eventsService,
		Logger:           log,
		Config:           cfg,
	})

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		sweeper:    sweepJob,
		httpRouter: r,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	go a.sweeper.Start(ctx)

	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
