// Package service implements the core relay logic: validate the inbound
// request, inject the fal credential, forward it and shape the response.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"fal-proxy-go/internal/client"
	"fal-proxy-go/internal/config"
	"fal-proxy-go/internal/metrics"
	"fal-proxy-go/internal/model"
	"fal-proxy-go/internal/target"
)

// TargetURLHeader carries the absolute upstream URL the caller wants to reach.
const TargetURLHeader = "X-Fal-Target-Url"

const jsonContentType = "application/json"

// Validation failures. Each is terminal and reported before any upstream call.
var (
	ErrMethodNotAllowed     = errors.New("method not allowed")
	ErrMissingTarget        = errors.New("missing " + strings.ToLower(TargetURLHeader) + " header")
	ErrTargetNotAllowed     = errors.New("invalid target URL")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrInvalidBody          = errors.New("request body cannot be encoded as JSON")
	ErrBodyTooLarge         = errors.New("request body exceeds the configured limit")
	ErrMissingCredential    = errors.New("missing FAL_KEY on server")
)

// droppedResponseHeaders are recomputed by the server from the final payload.
var droppedResponseHeaders = map[string]bool{
	"Content-Length":   true,
	"Content-Encoding": true,
}

// RelayService forwards validated requests to the fal API.
type RelayService struct {
	client  *client.FalClient
	key     string
	maxBody int64
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRelayService creates a RelayService. The fal key and body limit are
// captured once from cfg and never change for the lifetime of the service. A
// body limit of zero means unlimited. The metrics parameter is optional.
func NewRelayService(c *client.FalClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *RelayService {
	return &RelayService{
		client:  c,
		key:     cfg.Fal.Key,
		maxBody: cfg.Server.BodyMaxBytes,
		logger:  logger.With("component", "relay_service"),
		metrics: m,
	}
}

// Relay validates req, forwards it to the target named by TargetURLHeader and
// returns the buffered upstream response with length and encoding headers
// removed.
//
// Validation failures wrap one of the Err* sentinels. Any other error comes
// from the upstream call; it is never retried.
func (s *RelayService) Relay(ctx context.Context, req *model.RelayRequest) (*model.RelayResponse, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return nil, s.reject(ErrMethodNotAllowed)
	}

	rawTarget := req.Header.Get(TargetURLHeader)
	if rawTarget == "" {
		return nil, s.reject(ErrMissingTarget)
	}
	if _, err := target.Parse(rawTarget); err != nil {
		return nil, s.reject(fmt.Errorf("%w: %w", ErrTargetNotAllowed, err))
	}

	var body io.Reader
	if req.Method == http.MethodPost {
		ct := strings.ToLower(req.Header.Get("Content-Type"))
		if !strings.Contains(ct, jsonContentType) {
			return nil, s.reject(ErrUnsupportedMediaType)
		}

		text, ok, err := req.Body.Text()
		if err != nil {
			return nil, s.reject(fmt.Errorf("%w: %w", ErrInvalidBody, err))
		}
		if ok {
			if s.maxBody > 0 && int64(len(text)) > s.maxBody {
				return nil, s.reject(ErrBodyTooLarge)
			}
			s.observeBody(req.Body.Kind(), text)
			body = strings.NewReader(text)
		}
	}

	if s.key == "" {
		return nil, s.reject(ErrMissingCredential)
	}

	s.logger.Debug("forwarding request",
		"method", req.Method,
		"target", rawTarget,
	)

	resp, err := s.client.Do(ctx, req.Method, rawTarget, s.outboundHeader(), body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// BodyLimit returns the largest body, in bytes, Relay will forward. Callers
// reading a stream need at most BodyLimit()+1 bytes to let Relay detect an
// oversized body. Zero means unlimited.
func (s *RelayService) BodyLimit() int64 {
	return s.maxBody
}

// outboundHeader builds the complete header set sent upstream. Nothing from
// the inbound request is copied.
func (s *RelayService) outboundHeader() http.Header {
	return http.Header{
		"Authorization": {"Key " + s.key},
		"Content-Type":  {jsonContentType},
	}
}

// observeBody classifies a forwarded body. Raw text that is not well-formed
// JSON is still forwarded unchanged; the upstream decides.
func (s *RelayService) observeBody(kind model.BodyKind, text string) {
	format := "value"
	if kind == model.BodyText {
		format = "json"
		if !gjson.Valid(text) {
			format = "malformed_json"
			s.logger.Debug("forwarding body that is not well-formed JSON", "bytes", len(text))
		}
	}
	if s.metrics != nil {
		s.metrics.RelayBodies.WithLabelValues(format).Inc()
	}
}

func (s *RelayService) reject(err error) error {
	if s.metrics != nil {
		s.metrics.RelayRejections.WithLabelValues(RejectionReason(err)).Inc()
	}
	return err
}

// RejectionReason returns a bounded label describing a validation failure,
// or "upstream" for errors that did not come from validation.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMethodNotAllowed):
		return "method_not_allowed"
	case errors.Is(err, ErrMissingTarget):
		return "missing_target"
	case errors.Is(err, ErrTargetNotAllowed):
		return "target_not_allowed"
	case errors.Is(err, ErrUnsupportedMediaType):
		return "unsupported_media_type"
	case errors.Is(err, ErrInvalidBody):
		return "invalid_body"
	case errors.Is(err, ErrBodyTooLarge):
		return "body_too_large"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	default:
		return "upstream"
	}
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if droppedResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = vals
	}
	return dst
}
