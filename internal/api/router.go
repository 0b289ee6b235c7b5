package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/baharkarakas/point-ledger/internal/config"
	"github.com/baharkarakas/point-ledger/internal/metrics"
	"github.com/baharkarakas/point-ledger/internal/middleware"
	"github.com/baharkarakas/point-ledger/internal/services"
)

func NewRouter(cfg config.Config, ps *services.PointService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.AccessLog, middleware.HTTPMetrics, middleware.Recover, middleware.RateLimit(cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	h := &pointHandler{svc: ps}
	r.Route("/point/{id}", func(r chi.Router) {
		r.Get("/", h.point)
		r.Get("/histories", h.histories)
		r.Patch("/charge", h.mutate(ps.Charge))
		r.Patch("/use", h.mutate(ps.Use))
	})

	return r
}
