package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/welldanyogia/mock-smtp/internal/health"
	"github.com/welldanyogia/mock-smtp/internal/metrics"
	"github.com/welldanyogia/mock-smtp/internal/middleware"
	"github.com/welldanyogia/mock-smtp/internal/sse"
)

// RouterConfig holds everything the admin router serves
type RouterConfig struct {
	Handler *Handler
	Health  *health.Handler

	// Stream is optional; nil leaves out the event stream
	Stream *sse.Handler

	CORSOrigins []string

	// RateLimiter is optional; nil disables rate limiting
	RateLimiter *middleware.RateLimiter

	Logger *slog.Logger
}

// NewRouter builds the admin HTTP router: health probes, Prometheus
// metrics and the versioned API
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Health)
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(middleware.RateLimit(cfg.RateLimiter))
		}
		RegisterSessionRoutes(r, cfg.Handler)
		RegisterEventRoutes(r, cfg.Handler)
		if cfg.Stream != nil {
			sse.RegisterRoutes(r, cfg.Stream)
		}
	})

	return r
}

// RegisterSessionRoutes registers the session registry routes
func RegisterSessionRoutes(r chi.Router, handler *Handler) {
	r.Route("/sessions", func(r chi.Router) {
		// GET /api/v1/sessions - List live sessions
		r.Get("/", handler.ListSessions)

		// GET /api/v1/sessions/{id}/recipients - Recipients of the current envelope
		r.Get("/{id}/recipients", handler.GetRecipients)
	})
}

// RegisterEventRoutes registers the lifecycle event replay route
func RegisterEventRoutes(r chi.Router, handler *Handler) {
	// GET /api/v1/events - Recent lifecycle events
	r.Get("/events", handler.ListEvents)
}
