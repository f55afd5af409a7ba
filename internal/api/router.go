package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/doctalk-booking/internal/booking"
	"github.com/hackgods/doctalk-booking/internal/voice"
	"github.com/hackgods/doctalk-booking/pkg/logger"
)

type RouterConfig struct {
	Orchestrator *booking.Orchestrator
	Pipeline     *voice.Pipeline
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Gatherer     prometheus.Gatherer
	Logger       *logger.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Conversation endpoints
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Post("/turns", turnHandler(cfg.Orchestrator))
		r.Post("/utterances", utteranceHandler(cfg.Pipeline))
		r.Post("/reset", resetHandler(cfg.Orchestrator, cfg.Logger))
		r.Get("/history", historyHandler(cfg.Orchestrator, cfg.Logger))
		r.Get("/stream", streamHandler(cfg.Orchestrator, cfg.Pipeline, cfg.Logger))
	})

	r.Get("/doctors/availability", availabilityHandler(cfg.Orchestrator, cfg.Logger))

	return r
}
