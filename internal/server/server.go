package server

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dgnsrekt/schedule-live/internal/broadcast"
	"github.com/dgnsrekt/schedule-live/internal/data"
	"github.com/dgnsrekt/schedule-live/internal/live"
)

// Deps are the components the HTTP surface exposes.
type Deps struct {
	Registry       *live.Registry
	Sessions       http.Handler
	Broadcaster    *broadcast.Broadcaster
	Source         data.SnapshotSource
	Reloader       *ReloadManager // nil when the data source cannot be reloaded
	Gatherer       prometheus.Gatherer
	Clock          clockwork.Clock
	Location       *time.Location
	DataMode       string
	AllowedOrigins []string
}

func NewRouter(deps Deps, logger *zap.Logger) http.Handler {
	s := &Server{
		registry:    deps.Registry,
		broadcaster: deps.Broadcaster,
		source:      deps.Source,
		reloader:    deps.Reloader,
		clock:       deps.Clock,
		loc:         deps.Location,
		dataMode:    deps.DataMode,
		logger:      logger,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	r.Method(http.MethodGet, "/ws", deps.Sessions)

	// JSON API, gzip-compressed
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(func(next http.Handler) http.Handler {
			return gzhttp.GzipHandler(next)
		})
		api.Get("/stats", s.handleStats)
		api.Get("/tenants/{tenantId}/snapshot", s.handleSnapshot)
		api.Post("/tenants/{tenantId}/mutations", s.handleMutation)
	})

	if deps.Reloader != nil {
		r.Post("/admin/reload", s.handleReload)
	}

	return r
}

func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	allowAll := len(allowed) == 0 || slices.Contains(allowed, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(allowed, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.String("requestId", middleware.GetReqID(r.Context())),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}
