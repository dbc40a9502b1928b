package provider

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/newtonlabs/providers-oss/pkg/capability"
)

// Settings carries the runtime configuration every provider needs: base URLs
// for the upstreams and the credentials that must never live in source.
type Settings struct {
	// ProxyBaseURL addresses the rate-limited proxy fronting the Farcaster
	// and vaults.fyi upstreams.
	ProxyBaseURL string
	// PersonaBaseURL is the Persona API root (".../api/v1").
	PersonaBaseURL string
	PersonaAPIKey  string
	// PlaidBaseURL is the Plaid environment root (sandbox or production).
	PlaidBaseURL string
	Plaid        PlaidCredentials
	// ScoreBaseURL addresses the risk signals upstream.
	ScoreBaseURL string

	Logger *slog.Logger
}

// Registry holds the named provider pipelines a host runtime can execute.
// Reload swaps the full set atomically, so a config watcher can rebuild
// providers without racing in-flight lookups.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}

// NewRegistry builds all providers against the given capability.
func NewRegistry(settings Settings, fetcher capability.Fetcher) *Registry {
	r := &Registry{}
	r.Reload(settings, fetcher)
	return r
}

// Reload rebuilds every pipeline from fresh settings.
func (r *Registry) Reload(settings Settings, fetcher capability.Fetcher) {
	opts := []PipelineOption{}
	if settings.Logger != nil {
		opts = append(opts, WithLogger(settings.Logger))
	}

	pipelines := map[string]*Pipeline{}
	for _, p := range []*Pipeline{
		NewFarcaster(settings.ProxyBaseURL, fetcher, opts...),
		NewPersona(settings.PersonaBaseURL, settings.PersonaAPIKey, fetcher, opts...),
		NewPlaid(settings.PlaidBaseURL, settings.Plaid, fetcher, opts...),
		NewVaultsFyi(settings.ProxyBaseURL, fetcher, opts...),
		NewScore(settings.ScoreBaseURL, fetcher, opts...),
	} {
		pipelines[p.Name()] = p
	}

	r.mu.Lock()
	r.pipelines = pipelines
	r.mu.Unlock()
}

// Get returns the named pipeline.
func (r *Registry) Get(name string) (*Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[name]
	return p, ok
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
