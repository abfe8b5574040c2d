package app

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/rle/grps/internal/auth"
	"github.com/rle/grps/internal/calculation"
	"github.com/rle/grps/internal/handler"
	"github.com/rle/grps/internal/infra"
	"github.com/rle/grps/internal/policy"
	"github.com/rle/grps/internal/service"
)

// Platform is the game platform API: group roles and the datastore.
type Platform interface {
	service.RoleSyncer
	service.Datastore
}

// Services bundles the application services exposed over HTTP.
type Services struct {
	Calc        *calculation.Service
	Ingestion   *service.IngestionService
	Automation  *service.AutomationService
	Leaderboard *service.LeaderboardService
	Sync        *service.SyncService
}

// BuildServices wires the services from configuration, a loaded rank policy,
// persistence and the platform client.
func BuildServices(cfg *infra.Config, rankPolicy *policy.RankPolicy, repos service.Repos, platform Platform, metrics *infra.Metrics, logger *slog.Logger) *Services {
	calc := calculation.NewService(rankPolicy)
	datastore := service.DatastoreConfig{
		UniverseID: cfg.RobloxUniverseID,
		Name:       cfg.DatastoreName,
		Scope:      cfg.DatastoreScope,
		Prefix:     cfg.DatastorePrefix,
	}

	automation := service.NewAutomationService(repos, calc, platform, platform, service.MirrorConfig{
		Enabled:   cfg.MirrorEnabled,
		Datastore: datastore,
		Timeout:   cfg.ExternalTimeout,
	}, metrics, logger)
	ingestion := service.NewIngestionService(repos, calc, automation, metrics, logger)
	return &Services{
		Calc:        calc,
		Ingestion:   ingestion,
		Automation:  automation,
		Leaderboard: service.NewLeaderboardService(repos, calc, cfg.LeaderboardCacheTTL, cfg.LeaderboardCacheSize, logger),
		Sync:        service.NewSyncService(platform, datastore, ingestion, metrics, logger),
	}
}

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Services *Services
	Repos    service.Repos
	// DB is pinged by the readiness probe; nil reports ready without a database.
	DB      infra.Pinger
	Metrics *infra.Metrics
	Logger  *slog.Logger

	// Optional request authentication; zero values disable each check.
	StaffJWT        *auth.JWTManager
	APIKeyHeader    string
	APIKeys         []string
	SignatureSecret string

	CORSOrigins string
	RateLimiter *handler.IPRateLimiter
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	svcs := deps.Services
	logger := deps.Logger

	// Handlers
	playerHandler := handler.NewPlayerHandler(deps.Repos.Players, deps.Repos.DB, svcs.Calc, svcs.Ingestion)
	leaderboardHandler := handler.NewLeaderboardHandler(svcs.Leaderboard)
	robloxHandler := handler.NewRobloxHandler(svcs.Ingestion, svcs.Calc, logger)
	automationHandler := handler.NewAutomationHandler(svcs.Automation, svcs.Calc)
	syncHandler := handler.NewSyncHandler(svcs.Sync)

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORSWithOrigins(deps.CORSOrigins))

	// Prometheus exposition sets its own content type
	r.Method("GET", "/metrics", deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(handler.JSONContentType)

		r.Route("/health", func(r chi.Router) {
			r.Get("/live", handler.Live)
			r.Get("/ready", handler.ReadyHandler(deps.DB))
		})

		// Public reads
		r.Group(func(r chi.Router) {
			r.Use(handler.RateLimit(deps.RateLimiter))

			r.Route("/players/{userId}", func(r chi.Router) {
				r.Get("/", playerHandler.GetPlayer)
				r.Get("/snapshots", playerHandler.ListSnapshots)
			})
			r.Route("/leaderboard", func(r chi.Router) {
				r.Get("/top", leaderboardHandler.Top)
				r.Get("/records", leaderboardHandler.Records)
			})
		})

		// Game servers
		r.Route("/roblox", func(r chi.Router) {
			r.Use(auth.RequireAPIKey(deps.APIKeyHeader, deps.APIKeys))
			r.Post("/events/player-activity", robloxHandler.PlayerActivity)
		})

		// Staff tooling
		r.Route("/automation", func(r chi.Router) {
			r.Use(auth.AuthenticateStaff(deps.StaffJWT))
			r.Post("/decisions", automationHandler.Decide)
		})

		// Signed reconciliation trigger
		r.Route("/sync", func(r chi.Router) {
			r.Use(auth.RequireSignature(deps.SignatureSecret))
			r.Post("/roblox", syncHandler.Roblox)
		})
	})

	return r
}
