package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kycModule = `package policy

default allow := false

allow if {
	not input.data.error
	input.data.computed.age >= 18
}

decision := {
	"allow": allow,
	"country": country,
}

default country := "unknown"

country := input.data.country_code if input.data.country_code
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"kyc.rego": kycModule},
	})
	require.NoError(t, err)
	return engine
}

func TestEngineRequiresModules(t *testing.T) {
	_, err := NewEngine(context.Background(), EngineOptions{})
	assert.Error(t, err)
}

func TestEngineRejectsUnparsableModule(t *testing.T) {
	_, err := NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"bad.rego": "this is not rego"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse rego module")
}

func TestEngineEvaluatesProviderResult(t *testing.T) {
	engine := newTestEngine(t)

	decision, err := engine.EvaluateResult(context.Background(),
		map[string]any{"inquiry_id": "inq_1"},
		`{"computed": {"age": 34}, "status": "approved", "country_code": "US"}`,
	)
	require.NoError(t, err)

	doc, ok := decision.(map[string]any)
	require.True(t, ok, "decision should be an object, got %T", decision)
	assert.Equal(t, true, doc["allow"])
	assert.Equal(t, "US", doc["country"])
}

func TestEngineDeniesErrorShapedResult(t *testing.T) {
	engine := newTestEngine(t)

	decision, err := engine.EvaluateResult(context.Background(),
		map[string]any{},
		`{"error": "inquiry_not_approved:pending"}`,
	)
	require.NoError(t, err)

	doc, ok := decision.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, doc["allow"])
	assert.Equal(t, "unknown", doc["country"])
}

func TestEngineDeniesUnderage(t *testing.T) {
	engine := newTestEngine(t)

	decision, err := engine.EvaluateResult(context.Background(),
		map[string]any{},
		`{"computed": {"age": 17}, "country_code": "US"}`,
	)
	require.NoError(t, err)

	doc := decision.(map[string]any)
	assert.Equal(t, false, doc["allow"])
}

func TestEngineParamsReachThePolicy(t *testing.T) {
	const echoModule = `package policy

decision := {"network": input.params.inquiry_network}
`
	engine, err := NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"echo.rego": echoModule},
	})
	require.NoError(t, err)

	decision, err := engine.Evaluate(context.Background(), Input{
		Params: map[string]any{"inquiry_network": "base"},
		Data:   map[string]any{},
	})
	require.NoError(t, err)

	doc := decision.(map[string]any)
	assert.Equal(t, "base", doc["network"])
}

func TestEngineCustomEntrypoint(t *testing.T) {
	const module = `package vaults

eligible := true if input.data.isTransactional
`
	engine, err := NewEngine(context.Background(), EngineOptions{
		Entrypoint: "vaults/eligible",
		Modules:    map[string]string{"vaults.rego": module},
	})
	require.NoError(t, err)

	decision, err := engine.EvaluateResult(context.Background(), nil, `{"isTransactional": true}`)
	require.NoError(t, err)
	assert.Equal(t, true, decision)
}

func TestEngineRejectsNonJSONProviderResult(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.EvaluateResult(context.Background(), nil, "not json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode provider result")
}
