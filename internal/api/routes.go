package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)

	r.Group(func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.authMiddleware)
		}
		r.With(middleware.Timeout(60*time.Second)).Post("/{service}", s.HandleQuery)
		r.Get("/{service}/ws", s.HandleWebSocket)
	})
}

func (s *RESTServer) setupMetricsRoute() {
	if s.config.Metrics.Enabled {
		s.router.Handle("/metrics", promhttp.Handler())
	}
}
