package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/noahgolmant/label-tiles/internal/api/middleware"
	v2 "github.com/noahgolmant/label-tiles/internal/api/v2"
	"github.com/noahgolmant/label-tiles/internal/conf"
	"github.com/noahgolmant/label-tiles/internal/download"
	"github.com/noahgolmant/label-tiles/internal/labels"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/observability"
	"github.com/noahgolmant/label-tiles/internal/securefs"
)

// Server is the HTTP server of label-tiles. It owns the echo instance and
// the v2 API controller.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	// Dependencies
	store      labels.Store
	sfs        *securefs.SecureFS
	scheduler  *download.Scheduler
	metrics    *observability.Metrics
	configPath string

	apiController *v2.Controller
	startTime     time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMetrics enables request metrics and the /api/v2/metrics endpoint.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithConfigPath persists settings changes made through the API.
func WithConfigPath(path string) ServerOption {
	return func(s *Server) {
		s.configPath = path
	}
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, store labels.Store, sfs *securefs.SecureFS,
	scheduler *download.Scheduler, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		settings:  settings,
		log:       GetLogger(),
		store:     store,
		sfs:       sfs,
		scheduler: scheduler,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Listen),
		logger.Bool("debug", config.Debug))
	return s, nil
}

// setupMiddleware configures the server-wide middleware. Request logging,
// metrics, CORS and body limits are applied by the API group.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewSecureHeaders(mw.DefaultSecurityConfig()))
}

// setupRoutes mounts the v2 API.
func (s *Server) setupRoutes() error {
	s.echo.GET("/health", s.healthCheck)

	opts := []v2.Option{v2.WithConfigPath(s.configPath)}
	if s.metrics != nil {
		opts = append(opts, v2.WithMetrics(s.metrics))
	}
	controller, err := v2.New(s.echo, s.settings, s.store, s.sfs, s.scheduler, opts...)
	if err != nil {
		return err
	}
	s.apiController = controller
	return nil
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Start begins serving HTTP requests in a background goroutine.
// Use Shutdown() to stop the server.
func (s *Server) Start() {
	go func() {
		if err := s.startBlocking(); err != nil {
			s.log.Error("server error", logger.Error(err))
		}
	}()
	s.log.Info("HTTP server starting", logger.String("address", s.config.Listen))
}

// startBlocking begins serving HTTP requests and blocks until the server is shut down.
func (s *Server) startBlocking() error {
	if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartWithGracefulShutdown starts the server and handles graceful shutdown on SIGINT/SIGTERM.
func (s *Server) StartWithGracefulShutdown() error {
	s.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	<-quit

	s.log.Info("shutdown signal received, initiating graceful shutdown")
	return s.Shutdown()
}

// Shutdown gracefully stops the server. Running download jobs are
// cancelled first so their progress streams can finish.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if s.apiController != nil {
		s.apiController.Shutdown()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.log.Info("server shutdown complete")
	return nil
}

// APIController returns the v2 API controller.
func (s *Server) APIController() *v2.Controller {
	return s.apiController
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
