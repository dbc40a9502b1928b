// Package capability defines the single host-granted operation a provider
// may invoke: fetching one HTTP resource. Providers receive a Fetcher by
// injection and can reach nothing else; the host decides whether the
// capability is implemented at all.
package capability

import (
	"context"
	"errors"
)

// ErrNotImplemented is returned by hosts that do not grant the HTTP fetch
// capability. Providers translate it into a well-formed error result rather
// than failing their run.
var ErrNotImplemented = errors.New("HTTP fetch not implemented by host")

// Header is a single (name, value) pair. Headers are ordered; providers may
// depend on emission order when talking to order-sensitive upstreams.
type Header struct {
	Name  string
	Value string
}

// Request describes the one outbound HTTP call a provider wants performed.
type Request struct {
	URL     string
	Method  string
	Headers []Header
	Body    []byte
}

// Response carries the upstream result back across the capability boundary.
// A non-2xx status is data, not a fetch failure; the body is raw bytes and
// only assumed to be UTF-8 JSON once normalization attempts to parse it.
type Response struct {
	Status  int
	Headers []Header
	Body    []byte
}

// Fetcher performs exactly one HTTP fetch on behalf of a sandboxed provider.
// Implementations must not retry. Errors indicate the call could not be made
// (capability missing, DNS, TLS, connection refused); they never encode an
// HTTP status.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req Request) (Response, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// NotImplemented returns a Fetcher that always reports the capability as
// missing. Hosts without network egress install this stub.
func NotImplemented() Fetcher {
	return FetcherFunc(func(context.Context, Request) (Response, error) {
		return Response{}, ErrNotImplemented
	})
}
