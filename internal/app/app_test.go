package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"fal-proxy-go/internal/config"
	"fal-proxy-go/internal/handler"
)

func newTestApp(t *testing.T, data string) *echo.Echo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	var e *echo.Echo
	app := fxtest.New(t,
		fx.Supply(&config.CLI{Config: path}, handler.Version("test")),
		Module,
		fx.Populate(&e),
		fx.NopLogger,
	)
	app.RequireStart()
	t.Cleanup(app.RequireStop)
	return e
}

func TestModule_Wiring(t *testing.T) {
	e := newTestApp(t, `
[fal]
key = "test-key"

[log]
level = "error"

[metrics]
enabled = true
`)

	tests := []struct {
		name       string
		method     string
		path       string
		target     string
		wantStatus int
	}{
		{"healthz", http.MethodGet, "/healthz", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"relay method gate", http.MethodPut, handler.RelayPath, "", http.StatusMethodNotAllowed},
		{"relay missing target", http.MethodGet, handler.RelayPath, "", http.StatusBadRequest},
		{"relay disallowed target", http.MethodGet, handler.RelayPath, "https://evil.com", http.StatusPreconditionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			if tt.target != "" {
				req.Header.Set("x-fal-target-url", tt.target)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if v := rec.Header().Get("X-Content-Type-Options"); v != "nosniff" {
				t.Errorf("X-Content-Type-Options = %q, want %q", v, "nosniff")
			}
		})
	}
}

func TestModule_MissingKeyFailsClosed(t *testing.T) {
	e := newTestApp(t, "[log]\nlevel = \"error\"\n")

	req := httptest.NewRequest(http.MethodPost, handler.RelayPath, strings.NewReader(`{}`))
	req.Header.Set("x-fal-target-url", "https://api.fal.ai/x")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(rec.Body.String(), "Missing FAL_KEY") {
		t.Errorf("body = %q, want missing key error", rec.Body.String())
	}
}

func TestModule_MetricsDisabled(t *testing.T) {
	e := newTestApp(t, "[log]\nlevel = \"error\"\n")

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestModule_BodyLimit(t *testing.T) {
	e := newTestApp(t, `
[server]
body_max_bytes = 16

[fal]
key = "test-key"

[log]
level = "error"
`)
	oversized := `{"prompt":"` + strings.Repeat("x", 64) + `"}`

	tests := []struct {
		name        string
		method      string
		contentType string
		wantStatus  int
		wantError   string
	}{
		{"json post", http.MethodPost, "application/json", http.StatusRequestEntityTooLarge, "Request Entity Too Large"},
		{"put ignores body", http.MethodPut, "application/json", http.StatusMethodNotAllowed, "Method Not Allowed"},
		{"text post ignores body", http.MethodPost, "text/plain", http.StatusUnsupportedMediaType, "Unsupported Media Type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, handler.RelayPath, strings.NewReader(oversized))
			req.Header.Set("x-fal-target-url", "https://api.fal.ai/x")
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
			}
			if body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
		})
	}
}
