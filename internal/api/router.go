package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/tubeconv/internal/api/handler"
	mw "github.com/iconidentify/tubeconv/internal/api/middleware"
)

// RouterConfig holds the router options taken from configuration.
type RouterConfig struct {
	// APIKey guards /api/v1. Empty leaves it open.
	APIKey         string
	RequestTimeout time.Duration
	// EnablePreview registers /get-card. Only relay deployments render cards.
	EnablePreview bool
	// RateLimit is requests per second across the server. Zero disables it.
	RateLimit float64
	RateBurst int
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(
	conversionHandler *handler.ConversionHandler,
	healthHandler *handler.HealthHandler,
	uiHandler *handler.UIHandler,
	cfg RouterConfig,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(mw.CORS)

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	// Health endpoints
	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)

	r.Get("/", uiHandler.Index)

	// Conversion endpoints
	r.Group(func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(mw.RateLimit(cfg.RateLimit, cfg.RateBurst))
		}

		if cfg.EnablePreview {
			r.Post("/get-card", conversionHandler.GetCard)
		}
		r.Post("/get-formats", conversionHandler.GetFormats)
		r.Post("/convert", conversionHandler.Convert)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(mw.APIKeyAuth(cfg.APIKey))
		}

		r.Get("/stats", healthHandler.Stats)
	})

	return r
}
