package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"zeroledger/internal/handler"
	"zeroledger/internal/middleware"
	"zeroledger/internal/telemetry"
)

// Options configure the HTTP server.
type Options struct {
	Port            string
	Mode            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Deps are the components the routes are served from. Auth is nil when
// analyst authentication is disabled.
type Deps struct {
	Triage  handler.Triage
	Health  *handler.HealthHandler
	Models  *handler.ModelsHandler
	Metrics *telemetry.Metrics
	Auth    *middleware.JWTAuth
}

type Server struct {
	router *gin.Engine
	srv    *http.Server
	opts   Options
	deps   Deps
	logger *zap.Logger
}

func NewServer(opts Options, deps Deps, logger *zap.Logger) *Server {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(deps.Metrics, logger), middleware.CORS())

	s := &Server{
		router: router,
		opts:   opts,
		deps:   deps,
		logger: logger,
	}
	s.setupRoutes()

	s.srv = &http.Server{
		Addr:         ":" + opts.Port,
		Handler:      router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	if s.deps.Health != nil {
		s.router.GET("/health", s.deps.Health.HealthCheck)
	}
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := s.router.Group("/api/v1")
	if s.deps.Auth != nil {
		api.Use(middleware.AuthMiddleware(s.deps.Auth, s.logger))
	}
	handler.NewTriageHandler(s.deps.Triage, s.logger).RegisterRoutes(api)
	handler.NewAnalyticsHandler(s.deps.Triage).RegisterRoutes(api)
	if s.deps.Models != nil {
		s.deps.Models.RegisterRoutes(api)
	}

	if s.deps.Health != nil {
		admin := api.Group("/breakers")
		if s.deps.Auth != nil {
			admin.Use(middleware.RequireRole("admin"))
		}
		admin.POST("/:name/reset", s.deps.Health.ResetBreaker)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("address", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("Server exited")
	return nil
}
