// Package client provides the upstream HTTP client for the fal API.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"fal-proxy-go/internal/config"
	"fal-proxy-go/internal/metrics"
	"fal-proxy-go/internal/model"
)

// FalClient sends requests to the upstream fal API.
type FalClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option customizes a FalClient.
type Option func(*FalClient)

// WithTransport replaces the pooled transport, e.g. to route requests to a
// test server.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *FalClient) {
		c.httpClient.Transport = rt
	}
}

// NewFalClient creates a FalClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewFalClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *FalClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	c := &FalClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "fal_client"),
		metrics: m,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes a request against the upstream and reads the whole response
// body into memory. The provided context controls the lifetime of the
// upstream request.
func (c *FalClient) Do(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.RelayResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	label := metrics.NormalizeMethod(req.Method)

	if err != nil {
		c.observe(label, start)
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	c.observe(label, start)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()
		c.metrics.UpstreamBytes.Add(float64(len(data)))
	}

	c.logger.Debug("upstream response",
		"status", resp.StatusCode,
		"size", humanize.IBytes(uint64(len(data))),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &model.RelayResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (c *FalClient) observe(method string, start time.Time) {
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
}
