package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
)

const defaultEntrypoint = "policy/decision"

// EngineOptions control OPA engine construction.
type EngineOptions struct {
	// Entrypoint is the default policy decision path (e.g. "policy/decision").
	Entrypoint string
	// Modules contains the Rego modules that should be loaded into the engine.
	Modules map[string]string
}

// Engine evaluates policy decisions using an embedded OPA instance. Prepared
// queries are cached per entrypoint and reused across evaluations.
type Engine struct {
	modules       map[string]string
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	queries       map[string]*rego.PreparedEvalQuery
	mu            sync.RWMutex
}

// Input is the canonical policy input document: the request parameters that
// drove the provider and the normalized data the provider returned.
type Input struct {
	// Entrypoint overrides the engine default when non-empty.
	Entrypoint string
	Params     map[string]any
	Data       any
}

// NewEngine constructs an Engine for the supplied modules and entrypoint.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}

	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}

	moduleCopy := make(map[string]string, len(opts.Modules))
	moduleOrder := make([]string, 0, len(opts.Modules))
	for name, src := range opts.Modules {
		moduleCopy[name] = src
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(moduleCopy))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, moduleCopy[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsedModules[name] = module
	}

	engine := &Engine{
		modules:       moduleCopy,
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		entrypoint:    entry,
		queries:       make(map[string]*rego.PreparedEvalQuery),
	}

	// Warm the default entrypoint to surface syntax errors early.
	if _, err := engine.getPreparedQuery(ctx, entry); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return engine, nil
}

// Evaluate executes the policy against the input document and returns the
// raw decision value produced by the entrypoint rule.
func (e *Engine) Evaluate(ctx context.Context, input Input) (any, error) {
	entry := strings.TrimSpace(input.Entrypoint)
	if entry == "" {
		entry = e.entrypoint
	}

	payload := map[string]any{
		"params": input.Params,
		"data":   input.Data,
	}

	prepared, err := e.getPreparedQuery(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("prepare query: %w", err)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return nil, fmt.Errorf("opa decision: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}
	return results[0].Expressions[0].Value, nil
}

// EvaluateResult evaluates the policy over a provider result string, decoding
// it into the input's data slot first. Error-shaped provider results are
// policy input like any other; it is the policy's job to react to them.
func (e *Engine) EvaluateResult(ctx context.Context, params map[string]any, providerResult string) (any, error) {
	var data any
	if err := json.Unmarshal([]byte(providerResult), &data); err != nil {
		return nil, fmt.Errorf("decode provider result: %w", err)
	}
	return e.Evaluate(ctx, Input{Params: params, Data: data})
}

func (e *Engine) getPreparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	query := "data." + strings.ReplaceAll(entry, "/", ".")

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query(query))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already prepared the query; respect first entry.
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}

	e.queries[entry] = &prepared
	return &prepared, nil
}
