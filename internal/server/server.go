package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/fetchguard/fetchguard/internal/errors"
	"github.com/fetchguard/fetchguard/internal/observability"
	"github.com/fetchguard/fetchguard/internal/reqstream"
	"github.com/fetchguard/fetchguard/internal/server/handlers"
	servermw "github.com/fetchguard/fetchguard/internal/server/middleware"
	"github.com/fetchguard/fetchguard/internal/supervisor"
)

// Route prefixes for the supervisor and request-stream surfaces.
const (
	FetchPrefix  = "/api/fetch"
	StreamPrefix = "/api/stream"
)

// Options carries the components the server exposes.
type Options struct {
	Host         string
	Port         int
	Version      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// AdminToken enables POST /admin/signal when non-empty.
	AdminToken string
	// Pprof mounts chi's profiler under /debug.
	Pprof bool

	Supervisor *supervisor.Supervisor
	Buffer     *reqstream.Buffer
	Stream     *reqstream.Stream
}

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	opts     Options
	health   *handlers.HealthManager
	streams  *handlers.StreamHandler
	listener net.Listener
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	if opts.Supervisor == nil {
		opts.Supervisor = supervisor.New(supervisor.DefaultConfig())
	}
	if opts.Buffer == nil {
		opts.Buffer = reqstream.NewBuffer(reqstream.DefaultConfig())
	}
	if opts.Stream == nil {
		opts.Stream = reqstream.NewStream(opts.Buffer)
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 120 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)

	// RequestID → Metrics → Recovery → Capture
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)
	r.Use(servermw.CaptureRequests(opts.Buffer, StreamPrefix+"/requests", "/metrics", "/health"))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		opts:   opts,
		health: handlers.NewHealthManager(opts.Version),
		server: &http.Server{
			Handler:      r,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerHealthChecks()
	s.registerRoutes()
	// Shutdown waits for idle connections; open event streams never get there.
	s.server.RegisterOnShutdown(s.streams.Close)

	return s
}

// Listen binds the listening socket so the bound address is known before Serve.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	return nil
}

// Start binds (if needed) and serves until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Start() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Starting HTTP server",
			zap.String("host", s.opts.Host),
			zap.Int("port", s.Port()),
			zap.String("addr", s.listener.Addr().String()))
	}

	s.health.MarkStarted()
	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the bound port, or the configured port before Listen.
func (s *Server) Port() int {
	if s.listener != nil {
		if tcpAddr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return tcpAddr.Port
		}
	}
	return s.opts.Port
}

// Health exposes the health manager so callers can register more checks.
func (s *Server) Health() *handlers.HealthManager {
	return s.health
}
