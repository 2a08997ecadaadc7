package serverless

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/labstack/echo/v4"
	. "github.com/onsi/gomega"

	"fal-proxy-go/internal/client"
	"fal-proxy-go/internal/client/clienttest"
	"fal-proxy-go/internal/config"
	"fal-proxy-go/internal/handler"
	"fal-proxy-go/internal/service"
)

// newRelayEcho builds the relay routes with the upstream served by h.
func newRelayEcho(t *testing.T, h http.HandlerFunc) *echo.Echo {
	t.Helper()
	up := clienttest.NewUpstream(t, h)

	cfg := &config.Config{
		Fal:      config.FalConfig{Key: "lambda-secret"},
		Upstream: config.UpstreamConfig{TimeoutSeconds: 10, IdleConnections: 1},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fc := client.NewFalClient(cfg, logger, nil, client.WithTransport(up.Transport()))
	relay := handler.NewRelayHandler(service.NewRelayService(fc, cfg, logger, nil), logger)

	e := echo.New()
	handler.RegisterRoutes(e, cfg, relay, handler.NewHealthHandler(cfg, "test"), nil)
	return e
}

func TestAdapter_RelayRoundTrip(t *testing.T) {
	g := NewWithT(t)

	var gotAuth, gotBody string
	e := newRelayEcho(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Add("X-Custom", "a")
		w.Header().Add("X-Custom", "b")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	a := NewAdapter(e)

	res, err := a.Invoke(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       handler.RelayPath,
		Headers: map[string]string{
			"content-type":     "application/json",
			"x-fal-target-url": "https://fal.run/fal-ai/flux",
		},
		Body:            base64.StdEncoding.EncodeToString([]byte(`{"prompt":"a cat"}`)),
		IsBase64Encoded: true,
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(res.StatusCode).To(Equal(http.StatusOK))
	g.Expect(res.Body).To(Equal(`{"ok":true}`))
	g.Expect(res.IsBase64Encoded).To(BeFalse())
	g.Expect(res.MultiValueHeaders).To(HaveKeyWithValue("X-Custom", []string{"a", "b"}))
	g.Expect(gotAuth).To(Equal("Key lambda-secret"))
	g.Expect(gotBody).To(Equal(`{"prompt":"a cat"}`))
}

func TestAdapter_RelayRejections(t *testing.T) {
	e := newRelayEcho(t, func(http.ResponseWriter, *http.Request) {
		t.Error("upstream must not be called")
	})
	a := NewAdapter(e)

	tests := []struct {
		name       string
		ev         events.APIGatewayProxyRequest
		wantStatus int
		wantError  string
	}{
		{
			name:       "method",
			ev:         events.APIGatewayProxyRequest{HTTPMethod: http.MethodDelete, Path: handler.RelayPath},
			wantStatus: http.StatusMethodNotAllowed,
			wantError:  `"error":"Method Not Allowed"`,
		},
		{
			name:       "missing target",
			ev:         events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: handler.RelayPath},
			wantStatus: http.StatusBadRequest,
			wantError:  `"error":"Missing x-fal-target-url header"`,
		},
		{
			name: "media type",
			ev: events.APIGatewayProxyRequest{
				HTTPMethod: http.MethodPost,
				Path:       handler.RelayPath,
				Headers: map[string]string{
					"content-type":     "text/plain",
					"x-fal-target-url": "https://api.fal.ai/x",
				},
				Body: "hello",
			},
			wantStatus: http.StatusUnsupportedMediaType,
			wantError:  `"error":"Unsupported Media Type"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			res, err := a.Invoke(context.Background(), tt.ev)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(res.StatusCode).To(Equal(tt.wantStatus))
			g.Expect(res.Body).To(ContainSubstring(tt.wantError))
		})
	}
}

func TestAdapter_MultiValueQuery(t *testing.T) {
	g := NewWithT(t)

	e := echo.New()
	e.GET("/q", func(c echo.Context) error {
		return c.String(http.StatusOK, strings.Join(c.QueryParams()["a"], ","))
	})

	res, err := NewAdapter(e).Invoke(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:                      http.MethodGet,
		Path:                            "/q",
		MultiValueQueryStringParameters: map[string][]string{"a": {"1", "2"}},
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(res.Body).To(Equal("1,2"))
}

func TestAdapter_BinaryBodyEncoded(t *testing.T) {
	g := NewWithT(t)

	raw := []byte{0xff, 0xfe, 0x00, 0x01}
	e := echo.New()
	e.GET("/bin", func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/octet-stream", raw)
	})

	res, err := NewAdapter(e).Invoke(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/bin"})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(res.IsBase64Encoded).To(BeTrue())
	g.Expect(res.Body).To(Equal(base64.StdEncoding.EncodeToString(raw)))
}

func TestAdapter_BadBase64(t *testing.T) {
	g := NewWithT(t)

	_, err := NewAdapter(echo.New()).Invoke(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:      http.MethodPost,
		Path:            "/",
		Body:            "not base64!",
		IsBase64Encoded: true,
	})
	g.Expect(err).To(HaveOccurred())
}

func TestAdapter_HTTPPayload(t *testing.T) {
	g := NewWithT(t)

	e := newRelayEcho(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"request_id":"r1"}`))
	})

	res, err := NewAdapter(e).InvokeHTTP(context.Background(), events.APIGatewayV2HTTPRequest{
		RawPath: handler.RelayPath,
		Headers: map[string]string{
			"content-type":     "application/json",
			"x-fal-target-url": "https://queue.fal.run/fal-ai/flux",
		},
		Body: `{"prompt":"a cat"}`,
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{
				Method: http.MethodPost,
				Path:   handler.RelayPath,
			},
		},
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(res.StatusCode).To(Equal(http.StatusAccepted))
	g.Expect(res.Body).To(Equal(`{"request_id":"r1"}`))
}

func TestAdapter_Handler(t *testing.T) {
	g := NewWithT(t)
	a := NewAdapter(echo.New())

	for _, payload := range []string{PayloadREST, PayloadHTTP} {
		h, err := a.Handler(payload)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(h).NotTo(BeNil())
	}

	_, err := a.Handler("3.0")
	g.Expect(err).To(MatchError(ContainSubstring("3.0")))
}
