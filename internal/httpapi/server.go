// Package httpapi serves the review dashboard API.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"horse.fit/curation/internal/db"
	"horse.fit/curation/internal/metrics"
	"horse.fit/curation/internal/review"
)

const statsCacheKey = "stats"

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	StatsTTL        time.Duration
}

type Server struct {
	pool    *db.Pool
	queue   *review.Queue
	metrics *metrics.Metrics
	logger  zerolog.Logger
	cache   *cache.Cache
	opts    Options
}

func NewServer(pool *db.Pool, queue *review.Queue, m *metrics.Metrics, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8095
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	statsTTL := opts.StatsTTL
	if statsTTL <= 0 {
		statsTTL = 15 * time.Second
	}

	return &Server{
		pool:    pool,
		queue:   queue,
		metrics: m,
		logger:  logger,
		cache:   cache.New(statsTTL, 2*statsTTL),
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			StatsTTL:        statsTTL,
		},
	}
}

// Handler builds the echo instance with every route registered.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.metrics.ObserveHTTPRequest(v.Method, c.Path(), strconv.Itoa(v.Status))
			event, msg := s.logger.Info(), "review api request"
			switch {
			case v.Error != nil:
				event, msg = s.logger.Error().Err(v.Error), "review api request failed"
			case v.Status >= http.StatusBadRequest:
				event = s.logger.Warn()
			}
			event.
				Str("method", v.Method).
				Str("route", c.Path()).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg(msg)
			return nil
		},
	}))

	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/reviews", s.handleReviews)
	api.POST("/reviews/enqueue", s.handleEnqueue)
	api.POST("/reviews/statuses", s.handleUpdateStatuses)
	api.POST("/reviews/reset", s.handleReset)
	api.PATCH("/reviews/:article_id", s.handleEditReview)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil || s.queue == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("curation review api started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("curation review api stopped")
	return nil
}

// httpErrorHandler answers echo-level errors (unknown routes, bad methods,
// panics) with a JSend body under /api and plain text elsewhere.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, message := http.StatusInternalServerError, "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		message = http.StatusText(status)
		if text, ok := he.Message.(string); ok && strings.TrimSpace(text) != "" {
			message = text
		}
	}

	if !strings.HasPrefix(c.Request().URL.Path, "/api/") {
		_ = c.String(status, message)
		return
	}
	if status >= http.StatusInternalServerError {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
