package handler

import (
	"github.com/labstack/echo/v4"

	"fal-proxy-go/internal/config"
	"fal-proxy-go/internal/metrics"
)

// RelayPath is where the relay endpoint is mounted.
const RelayPath = "/api/fal/proxy"

// RegisterRoutes wires all route handlers onto the Echo instance. The relay
// accepts every method so that it, not the router, answers disallowed ones.
// m may be nil when metrics are disabled.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, relay *RelayHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.Any(RelayPath, relay.Handle)
	e.Any(RelayPath+"/", relay.Handle)

	if m != nil && cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
	}
}
