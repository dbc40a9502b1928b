// Package provider implements the policy data provider pipelines. Each
// provider accepts a JSON request document, performs exactly one HTTP fetch
// through an injected capability, and normalizes the upstream payload into a
// single JSON object string. Run is total: success and failure both come back
// through the string channel, failure distinguished only by an "error" key.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/newtonlabs/providers-oss/pkg/capability"
	"github.com/newtonlabs/providers-oss/pkg/telemetry"
)

// Config describes the static shape of one provider: where it fetches from,
// which request fields it needs, and which fixed headers it sends. Auth
// material referenced here comes from runtime configuration, never from
// source literals.
type Config struct {
	Name        string
	Method      string
	// URLTemplate contains {field} placeholders filled from validated
	// request fields. Values are path-escaped before substitution.
	URLTemplate string
	// Required lists the request fields that must be present and non-empty.
	// Validation failures stop the pipeline before any fetch.
	Required []string
	Headers  []capability.Header
}

// NormalizeFunc applies a provider's schema-specific extraction rules to an
// upstream response whose body is already known to be valid JSON text.
type NormalizeFunc func(resp capability.Response, params map[string]string) (any, *Error)

// BodyFunc builds the request body for providers that POST. It runs after
// validation, so every required field is available in params.
type BodyFunc func(params map[string]string) ([]byte, *Error)

// Pipeline executes the shared four-stage provider flow: validate, build,
// fetch, normalize. Pipelines are stateless; concurrent Run calls share
// nothing but the injected Fetcher.
type Pipeline struct {
	cfg       Config
	fetcher   capability.Fetcher
	normalize NormalizeFunc
	body      BodyFunc
	logger    *slog.Logger
}

// NewPipeline wires a provider configuration to a host capability.
func NewPipeline(cfg Config, fetcher capability.Fetcher, normalize NormalizeFunc, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		fetcher:   fetcher,
		normalize: normalize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PipelineOption customises pipeline construction.
type PipelineOption func(*Pipeline)

// WithBody installs a request body builder for POST providers.
func WithBody(body BodyFunc) PipelineOption {
	return func(p *Pipeline) { p.body = body }
}

// WithLogger replaces the pipeline logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Name returns the provider name.
func (p *Pipeline) Name() string {
	return p.cfg.Name
}

// Run executes one provider invocation. The result is always a syntactically
// valid JSON object string; no error or panic crosses this boundary.
func (p *Pipeline) Run(ctx context.Context, input string) (result string) {
	start := time.Now()
	outcome := "success"

	defer func() {
		if r := recover(); r != nil {
			outcome = string(KindUnknown)
			p.logger.Error("provider run panicked",
				"provider", p.cfg.Name,
				"panic", fmt.Sprint(r),
			)
			result = (&Error{Kind: KindUnknown, Message: fmt.Sprint(r)}).render()
		}
		telemetry.RecordRun(ctx, telemetry.RunMetrics{
			Provider: p.cfg.Name,
			Outcome:  outcome,
			Duration: time.Since(start),
		})
	}()

	out, perr := p.run(ctx, input)
	if perr != nil {
		outcome = string(perr.Kind)
		p.logger.Debug("provider run failed",
			"provider", p.cfg.Name,
			"kind", string(perr.Kind),
			"error", perr.Message,
		)
		return perr.render()
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		outcome = string(KindUnknown)
		return (&Error{Kind: KindUnknown, Message: fmt.Sprintf("encode result: %v", err)}).render()
	}

	p.logger.Debug("provider run completed", "provider", p.cfg.Name, "duration", time.Since(start))
	return string(encoded)
}

// run performs stages 1-4. It returns either a normalized result or a typed
// pipeline error; Run flattens both into the string channel.
func (p *Pipeline) run(ctx context.Context, input string) (any, *Error) {
	params, perr := p.validate(input)
	if perr != nil {
		return nil, perr
	}

	req, perr := p.buildRequest(params)
	if perr != nil {
		return nil, perr
	}

	resp, err := p.fetcher.Fetch(ctx, req)
	switch {
	case errors.Is(err, capability.ErrNotImplemented):
		return nil, &Error{Kind: KindCapabilityUnavailable, Message: capability.ErrNotImplemented.Error()}
	case err != nil:
		return nil, &Error{Kind: KindTransportFailure, Message: fmt.Sprintf("HTTP request failed: %v", err)}
	}

	// The capability contract only promises bytes; check they form JSON
	// text before any normalizer sees them.
	if !json.Valid(resp.Body) {
		return nil, invalidPayload("upstream response is not valid JSON", resp.Body)
	}

	return p.normalize(resp, params)
}

// validate decodes the input document and extracts the required fields.
func (p *Pipeline) validate(input string) (map[string]string, *Error) {
	var req map[string]any
	if err := json.Unmarshal([]byte(input), &req); err != nil {
		return nil, &Error{Kind: KindUnknown, Message: fmt.Sprintf("invalid request: %v", err)}
	}

	params := make(map[string]string, len(p.cfg.Required))
	for _, field := range p.cfg.Required {
		value, ok := req[field].(string)
		if !ok || value == "" {
			return nil, missingField(field)
		}
		params[field] = value
	}
	return params, nil
}

// buildRequest substitutes validated fields into the URL template and
// attaches the provider's fixed headers.
func (p *Pipeline) buildRequest(params map[string]string) (capability.Request, *Error) {
	target := p.cfg.URLTemplate
	for field, value := range params {
		target = strings.ReplaceAll(target, "{"+field+"}", url.PathEscape(value))
	}

	req := capability.Request{
		URL:     target,
		Method:  p.cfg.Method,
		Headers: p.cfg.Headers,
	}

	if p.body != nil {
		body, perr := p.body(params)
		if perr != nil {
			return capability.Request{}, perr
		}
		req.Body = body
	}
	return req, nil
}

// defaultHeaders is the fixed header set shared by most providers.
func defaultHeaders() []capability.Header {
	return []capability.Header{
		{Name: "Accept", Value: "application/json"},
		{Name: "Content-Type", Value: "application/json"},
		{Name: "User-Agent", Value: "newton-provider/0.1"},
	}
}
