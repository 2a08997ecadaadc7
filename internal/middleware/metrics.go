package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"fal-proxy-go/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records request count,
// latency and in-flight gauge per method, status code and path prefix.
//
// Errors returned by inner handlers, such as failed upstream calls, are
// handed to Echo's error handler here so the status it writes is the one
// recorded. The middleware returns nil in that case.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			method := metrics.NormalizeMethod(c.Request().Method)
			path := metrics.NormalizePath(c.Request().URL.Path)

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()
			start := time.Now()

			handleError(c, next(c))

			status := strconv.Itoa(c.Response().Status)
			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// handleError commits err through Echo's error handler so the response
// status is final before it is observed. Echo skips responses that are
// already committed.
func handleError(c echo.Context, err error) {
	if err != nil {
		c.Error(err)
	}
}
