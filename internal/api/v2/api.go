// Package api implements the /api/v2 JSON endpoints of label-tiles.
package api

import (
	"context"
	"crypto/rand"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	mw "github.com/noahgolmant/label-tiles/internal/api/middleware"
	"github.com/noahgolmant/label-tiles/internal/conf"
	"github.com/noahgolmant/label-tiles/internal/download"
	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/export"
	"github.com/noahgolmant/label-tiles/internal/labels"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/observability"
	"github.com/noahgolmant/label-tiles/internal/securefs"
)

// GetLogger returns the v2 API logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Controller manages the API routes and handlers
type Controller struct {
	Echo      *echo.Echo
	Group     *echo.Group
	Settings  *conf.Settings
	Store     labels.Store
	Scheduler *download.Scheduler
	SFS       *securefs.SecureFS

	// ConfigPath is where settings changes are persisted. Empty keeps
	// changes in memory only.
	ConfigPath string

	settingsMutex sync.RWMutex // guards Settings.TileServers and Settings.Labeling
	exporter      *export.Writer
	jobs          *jobRegistry
	metrics       *observability.Metrics
	log           logger.Logger
	startTime     time.Time

	// ctx outlives single requests; download jobs are bound to it
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithMetrics enables request metrics and the /metrics endpoint.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithConfigPath persists tile server and noun phrase changes to path.
func WithConfigPath(path string) Option {
	return func(c *Controller) {
		c.ConfigPath = path
	}
}

// New creates the API controller and registers its routes under /api/v2.
func New(e *echo.Echo, settings *conf.Settings, store labels.Store, sfs *securefs.SecureFS,
	scheduler *download.Scheduler, opts ...Option) (*Controller, error) {
	if settings == nil || store == nil || sfs == nil || scheduler == nil {
		return nil, errors.Newf("api controller requires settings, store, filesystem and scheduler").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		Echo:      e,
		Settings:  settings,
		Store:     store,
		Scheduler: scheduler,
		SFS:       sfs,
		exporter:  export.NewWriter(sfs),
		jobs:      newJobRegistry(settings.Download.JobRetention),
		log:       GetLogger(),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Group = e.Group("/api/v2")

	c.Group.Use(mw.NewRequestID())
	c.Group.Use(mw.NewRequestLogger(c.log))
	if c.metrics != nil {
		c.Group.Use(mw.NewMetrics(c.metrics.HTTP))
	}
	c.Group.Use(mw.NewCORS(mw.SecurityConfig{AllowedOrigins: settings.WebServer.CORS}))
	c.Group.Use(mw.NewBodyLimit(settings.WebServer.BodyLimit))

	c.initRoutes()
	return c, nil
}

// initRoutes registers all API endpoints
func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	c.initLabelRoutes()
	c.initSettingsRoutes()
	c.initDownloadRoutes()
	c.initExportRoutes()
	c.initTileRoutes()

	if c.metrics != nil && c.Settings.Metrics.Enabled {
		c.Group.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// HealthCheck handles the API health check endpoint
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.startTime)
	response := map[string]any{
		"status":         "healthy",
		"uptime_seconds": uptime.Seconds(),
		"active_jobs":    c.jobs.activeCount(),
		"timestamp":      time.Now().Format(time.RFC3339),
	}

	dbStatus := "connected"
	if err := c.Store.Ping(ctx.Request().Context()); err != nil {
		dbStatus = "disconnected"
		response["status"] = "degraded"
	}
	response["database_status"] = dbStatus
	return ctx.JSON(http.StatusOK, response)
}

// Shutdown cancels running download jobs and waits for their terminal
// snapshots. Open progress streams end with those snapshots.
func (c *Controller) Shutdown() {
	c.cancel()
	c.wg.Wait()
	c.jobs.flush()
	c.log.Info("api controller shut down")
}

// ErrorResponse is the error envelope of every failed request
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates an 8 character identifier using crypto/rand
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// statusForError maps an error category onto an HTTP status
func statusForError(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	switch {
	case errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryExport):
		return http.StatusUnprocessableEntity
	case errors.IsCategory(err, errors.CategoryDiskSpace):
		return http.StatusInsufficientStorage
	case errors.IsCategory(err, errors.CategoryCoordinate),
		errors.IsCategory(err, errors.CategoryValidation),
		errors.IsCategory(err, errors.CategoryConfiguration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes the error envelope with the given status code
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		c.log.Error("API error", fields...)
	} else {
		c.log.Debug("API error", fields...)
	}
	return ctx.JSON(code, resp)
}

// handleDomainError derives the status code from the error category
func (c *Controller) handleDomainError(ctx echo.Context, err error, message string) error {
	return c.HandleError(ctx, err, message, statusForError(err))
}
