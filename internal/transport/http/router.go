package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"hdxscraper/internal/middleware"
)

// RouterConfig holds the dependencies of the router.
type RouterConfig struct {
	Service        Service
	Run            RunFunc
	Version        string
	MetricsHandler http.Handler
	TracerProvider trace.TracerProvider
	// RequestsPerSecond limits the API. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	Logger            *slog.Logger
}

// NewRouter wires middlewares and handlers.
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Tracing(tp))

	r.Get("/healthz", NewHealthHandler(cfg.Version).HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	api := NewResultsHandler(cfg.Service, cfg.Run, logger)
	r.Group(func(r chi.Router) {
		if cfg.RequestsPerSecond > 0 {
			burst := cfg.Burst
			if burst < 1 {
				burst = 1
			}
			r.Use(middleware.NewRateLimiter(cfg.RequestsPerSecond, burst, logger).Handler)
		}
		r.Mount("/api", api.Routes())
	})
	return r
}
