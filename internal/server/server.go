package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"workshop/internal/config"
	"workshop/internal/constants"
	"workshop/internal/errors"
	"workshop/internal/logger"
	"workshop/internal/operations"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Config holds the server configuration
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	AllowOrigins []string
	AllowHeaders []string
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            constants.DefaultServerHost,
		Port:            constants.DefaultServerPort,
		ReadTimeout:     constants.DefaultServerReadTimeout,
		WriteTimeout:    constants.DefaultServerWriteTimeout,
		ShutdownTimeout: constants.DefaultServerShutdownTimeout,
		AllowOrigins:    []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowHeaders:    []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}
}

// FromConfig maps the [server] section of the config file
func FromConfig(sc config.ServerConfig) *Config {
	cfg := DefaultConfig()
	cfg.Host = sc.Host
	cfg.Port = sc.Port
	if sc.ReadTimeout.Duration > 0 {
		cfg.ReadTimeout = sc.ReadTimeout.Duration
	}
	if sc.WriteTimeout.Duration > 0 {
		cfg.WriteTimeout = sc.WriteTimeout.Duration
	}
	if sc.ShutdownTimeout.Duration > 0 {
		cfg.ShutdownTimeout = sc.ShutdownTimeout.Duration
	}
	return cfg
}

// Address returns host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Server is the control-plane HTTP API
type Server struct {
	config    *Config
	echo      *echo.Echo
	ops       *operations.Workshop
	startTime time.Time
}

// New creates a server with middleware and routes installed
func New(cfg *Config, ops *operations.Workshop) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler

	s := &Server{
		config:    cfg,
		echo:      e,
		ops:       ops,
		startTime: time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Echo returns the Echo instance
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) String() string {
	return "api-server"
}

// Serve listens until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Address(),
		Handler:      s.echo,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.WithField("address", srv.Addr).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("failed to start server: %w", err)
		}
		close(errChan)
	}()

	select {
	case err, ok := <-errChan:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("API server stopped gracefully")
	return ctx.Err()
}

func (s *Server) setupMiddleware() {
	s.echo.Use(logger.RequestLogger())
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.config.AllowOrigins,
		AllowHeaders: s.config.AllowHeaders,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
}

// ErrorHandler renders every error as an HTTPErrorResponse
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	he, ok := err.(*echo.HTTPError)
	if !ok {
		he = errors.ToHTTPError(err).(*echo.HTTPError)
	}

	body := he.Message
	if msg, ok := body.(string); ok {
		body = errors.HTTPErrorResponse{Error: errors.ErrorInfo{
			Code:    httpCode(he.Code),
			Message: msg,
		}}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(he.Code)
		return
	}
	_ = c.JSON(he.Code, body)
}

func httpCode(status int) errors.ErrorCode {
	switch {
	case status == http.StatusNotFound:
		return "NOT_FOUND"
	case status == http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case status >= 400 && status < 500:
		return errors.ErrInvalidInput
	}
	return errors.ErrInternal
}
