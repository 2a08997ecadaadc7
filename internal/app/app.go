// Package app assembles the relay's dependency graph for both the HTTP
// server and the Lambda entry point.
package app

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"fal-proxy-go/internal/client"
	"fal-proxy-go/internal/config"
	"fal-proxy-go/internal/handler"
	"fal-proxy-go/internal/metrics"
	"fal-proxy-go/internal/middleware"
	"fal-proxy-go/internal/service"
)

// Module provides every component and registers the routes.
var Module = fx.Options(
	fx.Provide(
		config.Load,
		NewLogger,
		NewMetrics,
		NewEcho,
		func(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *client.FalClient {
			return client.NewFalClient(cfg, logger, m)
		},
		service.NewRelayService,
		handler.NewRelayHandler,
		handler.NewHealthHandler,
	),
	fx.Invoke(handler.RegisterRoutes, warnConfig),
)

// NewLogger builds the process logger from the log settings.
func NewLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// NewMetrics returns the metrics registry, or nil when metrics are disabled.
func NewMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

// NewEcho creates the Echo instance with the middleware chain.
func NewEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks. There is no write
	// timeout; upstream calls are bounded by the client timeout instead.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if m != nil {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func warnConfig(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
	cfg.WarnMissingKey(logger)
}
