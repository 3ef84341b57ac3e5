package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/gridlens/gridlens/internal/api/handlers"
	mw "github.com/gridlens/gridlens/internal/api/middleware"
	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/observability"
)

// Server is the gridlens HTTP server.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	services      handlers.Services
	metrics       *observability.Metrics
	apiController *handlers.Controller

	startTime time.Time

	mu      sync.Mutex
	errCh   chan error
	started bool
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithServices sets the domain services behind /api.
func WithServices(svc handlers.Services) ServerOption {
	return func(s *Server) {
		s.services = svc
	}
}

// WithMetrics enables request metrics and the /metrics endpoint.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:    config,
		settings:  settings,
		startTime: time.Now(),
		errCh:     make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.String("upload_dir", config.UploadDir),
		logger.Bool("metrics", s.metrics != nil))
	return s, nil
}

// setupMiddleware configures the echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		p := c.Path()
		return p == "/health" || p == "/metrics"
	}))
	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}
	s.echo.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: s.config.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, handlers.UserIDHeader},
	}))
	s.echo.Use(echomw.BodyLimit(s.config.BodyLimit))
}

// setupRoutes registers health, metrics, uploaded files and the API.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	if s.config.UploadDir != "" {
		s.echo.Static(s.config.URLPrefix, s.config.UploadDir)
	}
	if s.services.Transformers != nil {
		s.apiController = handlers.New(s.echo.Group("/api"), s.services, s.log)
	}
}

// healthCheck reports liveness and uptime.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.settings.Version,
		"build_date":     s.settings.BuildDate,
		"uptime":         uptime.Truncate(time.Second).String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Start serves in a background goroutine and returns immediately. A
// listener failure is delivered on Errors.
func (s *Server) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	addr := s.config.Address()
	s.log.Info("HTTP server starting", logger.String("address", addr))
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server failed", logger.Error(err))
			s.errCh <- errors.New(err).
				Component("api").
				Category(errors.CategoryNetwork).
				Context("address", addr).
				Build()
		}
	}()
}

// Errors reports a fatal listener error.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryTimeout).
			Build()
	}
	s.log.Info("HTTP server shutdown complete")
	return nil
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
