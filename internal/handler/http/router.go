package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/catalogsearch/internal/service"
	"github.com/utafrali/catalogsearch/pkg/health"
	"github.com/utafrali/catalogsearch/pkg/middleware"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	ServiceName    string
	OperatorToken  string
	JWTSecret      string
	RequestTimeout time.Duration
	CORS           middleware.CORSConfig
	PprofEnabled   bool
	PprofCIDRs     []string
}

// NewRouter creates a chi router with all search service routes registered.
// Index maintenance routes require an operator bearer token.
func NewRouter(
	searchService *service.SearchService,
	syncService *service.SyncService,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	if cfg.PprofEnabled {
		middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)
	}

	searchHandler := NewSearchHandler(searchService, logger)
	syncHandler := NewSyncHandler(syncService, logger)

	r.Route("/api/v1/search", func(r chi.Router) {
		r.Get("/", searchHandler.Search)
		r.Post("/", searchHandler.SearchJSON)
		r.Get("/ids", searchHandler.SearchIDs)
		r.Get("/suggest", searchHandler.Suggest)
		r.Get("/health", syncHandler.Health)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(middleware.AnyValidator(
				middleware.StaticTokenValidator(cfg.OperatorToken),
				middleware.JWTValidator(cfg.JWTSecret),
			)))
			r.Use(middleware.RequireRole(middleware.RoleOperator, middleware.RoleAdmin))

			r.Post("/index/{id}", syncHandler.IndexOne)
			r.Post("/index", syncHandler.IndexMany)
			r.Delete("/{id}", syncHandler.Delete)
			r.Post("/reindex", syncHandler.Reindex)
			r.Delete("/reindex", syncHandler.CancelReindex)
			r.Get("/sync/stats", syncHandler.Stats)
		})
	})

	return r
}
