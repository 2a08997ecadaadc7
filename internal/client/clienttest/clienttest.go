// Package clienttest provides an in-process fal upstream for tests.
package clienttest

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// Upstream is an httptest server standing in for any allow-listed fal host.
type Upstream struct {
	Server *httptest.Server
	target *url.URL
}

// NewUpstream starts a server running h and registers its shutdown with t.
func NewUpstream(t testing.TB, h http.Handler) *Upstream {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	return &Upstream{Server: srv, target: u}
}

// Transport returns a RoundTripper that delivers every request to the test
// server while preserving the original Host, so URLs such as
// https://api.fal.ai/... reach the handler unchanged apart from the scheme.
func (u *Upstream) Transport() http.RoundTripper {
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		out := r.Clone(r.Context())
		out.Host = r.URL.Host
		out.URL.Scheme = u.target.Scheme
		out.URL.Host = u.target.Host
		return u.Server.Client().Transport.RoundTrip(out)
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
