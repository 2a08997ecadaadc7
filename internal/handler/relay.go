package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"fal-proxy-go/internal/model"
	"fal-proxy-go/internal/service"
)

var (
	// secretParamPattern matches credential-like query parameters in URLs
	// embedded in error messages.
	secretParamPattern = regexp.MustCompile(`(?i)((?:api_?key|key|token)=)[^&\s"]+`)
	// secretAuthPattern matches the fal authorization scheme, "Key <secret>".
	secretAuthPattern = regexp.MustCompile(`(\bKey\s+)[^\s"',]+`)
)

// relayErrors maps validation failures to their status and client message.
var relayErrors = []struct {
	err     error
	status  int
	message string
}{
	{service.ErrMethodNotAllowed, http.StatusMethodNotAllowed, "Method Not Allowed"},
	{service.ErrMissingTarget, http.StatusBadRequest, "Missing x-fal-target-url header"},
	{service.ErrTargetNotAllowed, http.StatusPreconditionFailed, "Invalid target URL"},
	{service.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType, "Unsupported Media Type"},
	{service.ErrInvalidBody, http.StatusBadRequest, "Invalid JSON body"},
	{service.ErrBodyTooLarge, http.StatusRequestEntityTooLarge, "Request Entity Too Large"},
	{service.ErrMissingCredential, http.StatusInternalServerError, "Missing FAL_KEY env var on server"},
}

// RelayHandler relays requests to the fal API on behalf of the caller.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
	}
}

// Handle relays the request and writes the buffered upstream response back.
//
// Validation failures are answered locally with a JSON error body. Upstream
// failures are returned to Echo, whose error handler produces the response.
func (h *RelayHandler) Handle(c echo.Context) error {
	req := c.Request()

	rr := &model.RelayRequest{
		Method: req.Method,
		Header: req.Header,
	}
	if req.Method == http.MethodPost && req.Body != nil {
		// Read one byte past the limit so the service can reject oversized
		// bodies after the method, target and media type checks.
		var body io.Reader = req.Body
		if limit := h.service.BodyLimit(); limit > 0 {
			body = io.LimitReader(req.Body, limit+1)
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("read request body: %w", err)
		}
		rr.Body = model.TextBody(string(data))
	}

	resp, err := h.service.Relay(req.Context(), rr)
	if err != nil {
		return h.mapError(c, err)
	}

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		dst.Del(key)
		for _, v := range vals {
			dst.Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"status", resp.StatusCode,
		)
	}

	return nil
}

func (h *RelayHandler) mapError(c echo.Context, err error) error {
	for _, re := range relayErrors {
		if errors.Is(err, re.err) {
			level := slog.LevelWarn
			if re.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			h.logger.Log(c.Request().Context(), level, "relay rejected",
				"reason", service.RejectionReason(err),
				"status", re.status,
				"method", c.Request().Method,
			)
			return c.JSON(re.status, map[string]string{"error": re.message})
		}
	}

	h.logger.Error("relay error", "err", sanitizeError(err))
	return err
}

// sanitizeError redacts "Key <secret>" credentials and credential-like query
// parameters from error messages that may contain target URLs.
func sanitizeError(err error) string {
	msg := secretAuthPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
	return secretParamPattern.ReplaceAllString(msg, "${1}[REDACTED]")
}
