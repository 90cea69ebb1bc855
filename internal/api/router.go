package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Service Scheduler
	Health  *HealthHandler
	// Metrics is mounted at /metrics when set, usually promhttp.Handler().
	Metrics http.Handler
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(ActorRoleMiddleware)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", getAppointmentHandler(cfg.Service))
			r.Put("/", updateAppointmentHandler(cfg.Service))
			r.Put("/state", changeStateHandler(cfg.Service))
			r.Post("/reschedule", rescheduleHandler(cfg.Service))
			r.Post("/cancel", cancelAppointmentHandler(cfg.Service))
		})
	})

	return r
}
