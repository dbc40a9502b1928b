package capability

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultFetchTimeout bounds a single capability fetch. The provider contract
// promises no timeout of its own, so the host implementation supplies one.
const DefaultFetchTimeout = 15 * time.Second

// HTTPFetcher is the production Fetcher backed by net/http. It performs a
// single request per Fetch call with no retries.
type HTTPFetcher struct {
	client  *http.Client
	timeout time.Duration
	tracer  trace.Tracer
}

// HTTPFetcherOption customises an HTTPFetcher.
type HTTPFetcherOption func(*HTTPFetcher)

// WithClient replaces the underlying HTTP client.
func WithClient(client *http.Client) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithTimeout overrides the per-fetch timeout.
func WithTimeout(timeout time.Duration) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// NewHTTPFetcher builds the host-side fetch capability.
func NewHTTPFetcher(opts ...HTTPFetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:  &http.Client{},
		timeout: DefaultFetchTimeout,
		tracer:  otel.Tracer("newton.capability"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch executes the request and returns the upstream response as data.
// Transport failures (including timeout expiry) are returned as errors;
// HTTP status codes are not.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	ctx, span := f.tracer.Start(ctx, "capability.fetch", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.url", req.URL),
	))
	defer span.End()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		span.RecordError(err)
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Name, h.Value)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return Response{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return Response{}, fmt.Errorf("read response body: %w", err)
	}

	headers := make([]Header, 0, len(resp.Header))
	for name, values := range resp.Header {
		for _, value := range values {
			headers = append(headers, Header{Name: name, Value: value})
		}
	}

	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int("http.response_body_size", len(respBody)),
	)

	return Response{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    respBody,
	}, nil
}
