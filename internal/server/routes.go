package server

import (
	"context"
	"errors"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fetchguard/fetchguard/internal/observability"
	"github.com/fetchguard/fetchguard/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)
	s.router.Get("/health/startup", s.health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	fetch := handlers.NewSupervisorHandler(s.opts.Supervisor)
	s.router.Route(FetchPrefix, func(r chi.Router) {
		r.Get("/summary", fetch.Summary)
		r.Post("/config", fetch.Config)
		r.Post("/reset", fetch.Reset)
	})

	s.streams = handlers.NewStreamHandler(s.opts.Buffer, s.opts.Stream)
	s.router.Route(StreamPrefix, func(r chi.Router) {
		r.Get("/requests", s.streams.Requests)
		r.Post("/control", s.streams.Control)
	})

	if s.opts.Pprof {
		s.router.Mount("/debug", middleware.Profiler())
	}

	s.registerAdminEndpoint()
}

func (s *Server) registerHealthChecks() {
	s.health.RegisterChecker("supervisor", handlers.CheckFunc(func(context.Context) error {
		if s.opts.Supervisor == nil {
			return errors.New("supervisor not configured")
		}
		return nil
	}))
	s.health.RegisterChecker("request_stream", handlers.CheckFunc(func(context.Context) error {
		if s.opts.Buffer == nil || s.opts.Stream == nil {
			return errors.New("request stream not configured")
		}
		return nil
	}))
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger

	if s.opts.AdminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no admin token configured)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.opts.AdminToken,
		RateLimit: 10, // requests per minute
		RateBurst: 5,
		Manager:   nil, // default global manager
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
