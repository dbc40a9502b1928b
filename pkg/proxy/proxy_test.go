package proxy

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newtonlabs/providers-oss/internal/governance"
)

func newTestProxy(t *testing.T, upstream http.HandlerFunc, requests int) (*Proxy, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	p := New(Config{
		APIKey:      "proxy-secret",
		UserDataURL: srv.URL + "/users",
		VaultsURL:   srv.URL + "/detailed-vaults",
		RateLimit:   governance.RateLimiterConfig{Requests: requests, Window: time.Minute},
	})
	return p, srv
}

func doRequest(p *Proxy, method, path, client string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if client != "" {
		req.Header.Set("X-Forwarded-For", client)
	}
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)
	return rec
}

func TestProxyHello(t *testing.T) {
	p, _ := newTestProxy(t, func(w http.ResponseWriter, _ *http.Request) {}, 3)

	rec := doRequest(p, http.MethodGet, "/hello", "10.0.0.1")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message": "Hello World"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestProxyInjectsAPIKeyAndForwardsAddress(t *testing.T) {
	var gotKey, gotQuery string
	p, _ := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"0xabc": []}`)
	}, 3)

	rec := doRequest(p, http.MethodGet, "/data/0xabc", "10.0.0.1")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "proxy-secret", gotKey)
	assert.Equal(t, "addresses=0xabc", gotQuery)
	assert.JSONEq(t, `{"0xabc": []}`, rec.Body.String())
}

func TestProxyForwardsVaultPathSegments(t *testing.T) {
	var gotPath string
	p, _ := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"name": "vault"}`)
	}, 3)

	rec := doRequest(p, http.MethodGet, "/vaults/base/0xdef", "10.0.0.1")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/detailed-vaults/base/0xdef", gotPath)
}

func TestProxyRejectsFourthRequestInWindow(t *testing.T) {
	p, _ := newTestProxy(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	}, 3)

	for i := 0; i < 3; i++ {
		rec := doRequest(p, http.MethodGet, "/hello", "10.0.0.9")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := doRequest(p, http.MethodGet, "/hello", "10.0.0.9")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error": "Rate limit exceeded: 3 per 1 minute"}`, rec.Body.String())
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestProxyQuotaIsPerClient(t *testing.T) {
	p, _ := newTestProxy(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	}, 1)

	require.Equal(t, http.StatusOK, doRequest(p, http.MethodGet, "/hello", "10.0.0.1").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(p, http.MethodGet, "/hello", "10.0.0.1").Code)

	assert.Equal(t, http.StatusOK, doRequest(p, http.MethodGet, "/hello", "10.0.0.2").Code)
}

func TestProxyQuotaSharedAcrossRoutes(t *testing.T) {
	p, _ := newTestProxy(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	}, 3)

	require.Equal(t, http.StatusOK, doRequest(p, http.MethodGet, "/hello", "10.0.0.3").Code)
	require.Equal(t, http.StatusOK, doRequest(p, http.MethodGet, "/data/0x1", "10.0.0.3").Code)
	require.Equal(t, http.StatusOK, doRequest(p, http.MethodGet, "/vaults/base/0x1", "10.0.0.3").Code)

	assert.Equal(t, http.StatusTooManyRequests, doRequest(p, http.MethodGet, "/data/0x1", "10.0.0.3").Code)
}

func TestProxyUpstreamErrorStatusBecomesGeneric500(t *testing.T) {
	p, _ := newTestProxy(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail": "upstream exploded"}`, http.StatusBadGateway)
	}, 3)

	rec := doRequest(p, http.MethodGet, "/data/0xabc", "10.0.0.1")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "upstream request failed\n", rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "exploded", "upstream details must not leak")
}

func TestProxyTransportFailureBecomesGeneric500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	p := New(Config{
		APIKey:      "proxy-secret",
		UserDataURL: srv.URL + "/users",
		RateLimit:   governance.RateLimiterConfig{Requests: 3, Window: time.Minute},
	})

	rec := doRequest(p, http.MethodGet, "/data/0xabc", "10.0.0.1")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "upstream request failed\n", rec.Body.String())
}

func TestProxyUnknownRouteIs404BeforeQuota(t *testing.T) {
	p, _ := newTestProxy(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	}, 1)

	rec := doRequest(p, http.MethodGet, "/nope", "10.0.0.4")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The miss did not consume quota.
	assert.Equal(t, http.StatusOK, doRequest(p, http.MethodGet, "/hello", "10.0.0.4").Code)
}

func TestClientKeyPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientKey(req))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "127.0.0.1", clientKey(req))
}

func TestWindowLabel(t *testing.T) {
	assert.Equal(t, "1 minute", windowLabel(time.Minute))
	assert.Equal(t, "5 minutes", windowLabel(5*time.Minute))
	assert.Equal(t, "30 seconds", windowLabel(30*time.Second))
}
