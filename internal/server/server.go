// Package server exposes the read-only status API consumed by status
// displays: health, counters, relay state and the served models.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"orchardgrid/internal/pipeline"
	"orchardgrid/internal/protocol"
	"orchardgrid/internal/relay"
	"orchardgrid/internal/stats"
)

const (
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 10 * time.Second
	writeTimeout        = 10 * time.Second
	idleTimeout         = 120 * time.Second
)

// RelayState is the read side of the relay client.
type RelayState interface {
	State() relay.State
}

// Options configure a Server.
type Options struct {
	Host     string
	Port     int
	Pipeline *pipeline.Service
	Stats    *stats.Recorder
	// Relay is nil when the relay is disabled.
	Relay   RelayState
	Gateway string
	Version string
	Logger  *slog.Logger
}

type Server struct {
	opts    Options
	app     *echo.Echo
	address string
	started time.Time
	log     *slog.Logger
}

// StatusReport is the body of GET /status.
type StatusReport struct {
	Version string         `json:"version"`
	Uptime  string         `json:"uptime"`
	Gateway string         `json:"gateway"`
	Stats   stats.Snapshot `json:"stats"`
	Relay   *relay.State   `json:"relay,omitempty"`
}

// New constructs the status server wired with routing and middleware.
func New(opts Options) (*Server, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("pipeline must not be nil")
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid status port %d", opts.Port)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "status")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet},
	}))

	srv := &Server{
		opts:    opts,
		app:     e,
		address: net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		started: time.Now(),
		log:     logger,
	}
	srv.registerRoutes()
	return srv, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("starting status server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.log.Info("status server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/status", s.handleStatus)
	s.app.GET("/v1/models", s.handleModels)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	report := StatusReport{
		Version: s.opts.Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Gateway: s.opts.Gateway,
		Stats:   s.opts.Stats.Snapshot(),
	}
	if s.opts.Relay != nil {
		state := s.opts.Relay.State()
		report.Relay = &state
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleModels(c echo.Context) error {
	return c.JSON(http.StatusOK, protocol.NewModelList(s.opts.Pipeline.Models()))
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var perr *protocol.Error
	if errors.As(err, &perr) {
		_ = c.JSON(perr.Status(), perr.Body())
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		kind := protocol.KindInternal
		switch he.Code {
		case http.StatusNotFound, http.StatusMethodNotAllowed:
			kind = protocol.KindNotFound
		case http.StatusBadRequest:
			kind = protocol.KindBadRequest
		}
		perr := &protocol.Error{Kind: kind, Message: fmt.Sprint(he.Message)}
		_ = c.JSON(he.Code, perr.Body())
		return
	}

	_ = c.JSON(http.StatusInternalServerError, protocol.Internal("internal server error").Body())
}
