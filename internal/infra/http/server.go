package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/agencyhub/api/internal/config"
	"github.com/agencyhub/api/internal/infra/http/middleware"
	"github.com/agencyhub/api/pkg/logger"
)

// Server is the API's HTTP server.
type Server struct {
	httpServer   *http.Server
	router       Router
	config       *config.Config
	logger       *logger.Logger
	cleanupFuncs []func()
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRouter replaces the default chi router.
func WithRouter(r Router) ServerOption {
	return func(s *Server) {
		s.router = r
	}
}

// NewServer creates the server and installs the global middleware chain.
// Routes are registered afterwards through Router.
func NewServer(cfg *config.Config, log *logger.Logger, opts ...ServerOption) *Server {
	s := &Server{
		config: cfg,
		logger: log.With("component", "http"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.router == nil {
		s.router = NewRouter()
	}

	loggerCfg := middleware.DefaultLoggerConfig()

	// Order matters: recovery outermost, then request id so every later
	// layer can log it.
	global := []Middleware{
		middleware.Recovery(log, cfg.IsProduction()),
		middleware.RequestID(),
		middleware.SecurityHeaders(cfg.IsProduction()),
		middleware.CORS(cfg.CORS),
		middleware.Decompress(middleware.DefaultDecompressConfig()),
		middleware.BodyLimit(cfg.Server.MaxBodySize),
		middleware.Metrics(),
		middleware.Logger(log, loggerCfg),
	}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewClientLimiter(cfg.RateLimit, log)
		s.cleanupFuncs = append(s.cleanupFuncs, limiter.Stop)
		global = append(global, limiter.Middleware())
	}
	global = append(global, middleware.Timeout(cfg.Server.RequestTimeout))
	s.router.Use(global...)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.router.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       time.Minute,
	}
	return s
}

// Router returns the router for registering handlers.
func (s *Server) Router() Router {
	return s.router
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops background helpers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	for _, cleanup := range s.cleanupFuncs {
		cleanup()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
