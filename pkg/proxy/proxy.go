// Package proxy implements the rate-limited egress proxy that performs
// network calls on behalf of sandboxed providers. It enforces a per-client
// fixed-window quota, injects the upstream API key, forwards a single
// request, and returns the upstream JSON body verbatim. Secrets live only
// here; providers never see them.
package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/newtonlabs/providers-oss/internal/governance"
)

const defaultEgressTimeout = 10 * time.Second

// Config holds the proxy's runtime configuration. APIKey is the one secret a
// proxy instance carries; it is injected as the x-api-key header on every
// upstream call.
type Config struct {
	APIKey string
	// UserDataURL is the bulk user lookup endpoint. The address from the
	// request path is passed via the "addresses" query parameter.
	UserDataURL string
	// VaultsURL is the vault detail endpoint root; network and address are
	// appended as path segments.
	VaultsURL string
	// EgressTimeout bounds each upstream call. Expiry surfaces to the
	// caller as a transport failure, not a hang.
	EgressTimeout time.Duration
	RateLimit     governance.RateLimiterConfig
}

// Proxy is the HTTP handler set for the egress proxy.
type Proxy struct {
	cfg     Config
	limiter *governance.RateLimiter
	client  *http.Client
	logger  *slog.Logger
	metrics *Metrics
}

// Option customises proxy construction.
type Option func(*Proxy)

// WithLogger replaces the proxy logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithHTTPClient replaces the upstream HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Proxy) {
		if client != nil {
			p.client = client
		}
	}
}

// New builds a proxy from configuration.
func New(cfg Config, opts ...Option) *Proxy {
	if cfg.EgressTimeout <= 0 {
		cfg.EgressTimeout = defaultEgressTimeout
	}

	p := &Proxy{
		cfg:     cfg,
		limiter: governance.NewRateLimiter(cfg.RateLimit),
		client:  &http.Client{Timeout: cfg.EgressTimeout},
		logger:  slog.Default(),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Metrics exposes the proxy's Prometheus metrics for the admin server.
func (p *Proxy) Metrics() *Metrics {
	return p.metrics
}

// Handler returns the routed, rate-limited HTTP handler.
func (p *Proxy) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /hello", p.rateLimited("hello", http.HandlerFunc(p.handleHello)))
	mux.Handle("GET /data/{address}", p.rateLimited("data", http.HandlerFunc(p.handleData)))
	mux.Handle("GET /vaults/{network}/{address}", p.rateLimited("vaults", http.HandlerFunc(p.handleVaults)))
	return mux
}

// rateLimited wraps a route with quota enforcement, request IDs, and metrics.
func (p *Proxy) rateLimited(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		key := clientKey(r)

		logger := p.logger.With(
			"request_id", requestID,
			"route", route,
			"client", key,
		)

		limit := p.limiter.Config()
		if !p.limiter.AllowContext(r.Context(), key) {
			remaining, reset := p.limiter.Remaining(key)
			governance.WriteRateLimitHeaders(w, limit.Requests, remaining, reset)
			p.metrics.rateLimitedTotal.WithLabelValues(route).Inc()
			p.metrics.requestsTotal.WithLabelValues(route, strconv.Itoa(http.StatusTooManyRequests)).Inc()
			logger.Warn("rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error": "Rate limit exceeded: %d per %s"}`, limit.Requests, windowLabel(limit.Window))
			return
		}

		remaining, reset := p.limiter.Remaining(key)
		governance.WriteRateLimitHeaders(w, limit.Requests, remaining, reset)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(r.Context()))

		p.metrics.requestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		p.metrics.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		logger.Info("request handled", "status", sw.status, "duration", time.Since(start))
	})
}

func (p *Proxy) handleHello(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"message": "Hello World"}`))
}

// handleData forwards a bulk user lookup for one address.
func (p *Proxy) handleData(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	target := p.cfg.UserDataURL + "?addresses=" + address
	p.forward(w, r, "data", target)
}

// handleVaults forwards a vault detail lookup.
func (p *Proxy) handleVaults(w http.ResponseWriter, r *http.Request) {
	network := r.PathValue("network")
	address := r.PathValue("address")
	target := fmt.Sprintf("%s/%s/%s", p.cfg.VaultsURL, network, address)
	p.forward(w, r, "vaults", target)
}

// forward performs the single upstream GET with the injected API key and
// relays the JSON body verbatim. Upstream non-2xx surfaces as a generic 500;
// providers treat the proxy like any other upstream and diagnose from there.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, route, target string) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, http.NoBody)
	if err != nil {
		p.metrics.upstreamErrors.WithLabelValues(route, "build_request").Inc()
		http.Error(w, "upstream request failed", http.StatusInternalServerError)
		return
	}
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.metrics.upstreamErrors.WithLabelValues(route, "transport").Inc()
		p.logger.Error("upstream call failed", "route", route, "error", err)
		http.Error(w, "upstream request failed", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.metrics.upstreamErrors.WithLabelValues(route, "status").Inc()
		p.logger.Error("upstream returned error status", "route", route, "status", resp.StatusCode)
		http.Error(w, "upstream request failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Error("failed to relay upstream body", "route", route, "error", err)
	}
}

// clientKey derives the quota key for a request: the first X-Forwarded-For
// hop when present, otherwise the remote IP without its port.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// windowLabel renders a quota window the way operators read it ("1 minute").
func windowLabel(window time.Duration) string {
	if window%time.Minute == 0 {
		minutes := int(window / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return fmt.Sprintf("%d seconds", int(window/time.Second))
}

// statusWriter records the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
