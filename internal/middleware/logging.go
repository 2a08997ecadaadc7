// Package middleware provides Echo middleware for logging, metrics and security.
package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
)

// targetHeader names the relay routing header; only its host is logged.
const targetHeader = "X-Fal-Target-Url"

// RequestLogger returns an Echo middleware that logs each request with slog.
// Request headers are never logged; for relayed requests only the target host is.
// Handler errors are committed through Echo's error handler first so the
// logged status is the one the client receives.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			handleError(c, next(c))

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if host := targetHost(req); host != "" {
				attrs = append(attrs, "target_host", host)
			}
			logger.Info("request", attrs...)

			return nil
		}
	}
}

func targetHost(req *http.Request) string {
	raw := req.Header.Get(targetHeader)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
