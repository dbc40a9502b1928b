package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind classifies a pipeline failure. Kinds are internal bookkeeping: on the
// wire every failure is the same shape, a JSON object whose "error" field
// holds a human-readable string.
type Kind string

const (
	// KindMissingField marks a request that failed validation before any
	// capability invocation.
	KindMissingField Kind = "missing_field"
	// KindCapabilityUnavailable marks a host that did not grant HTTP fetch.
	KindCapabilityUnavailable Kind = "capability_unavailable"
	// KindTransportFailure marks a fetch that could not complete.
	KindTransportFailure Kind = "transport_failure"
	// KindInvalidUpstreamPayload marks an upstream body that was not the
	// JSON document the provider expected. The raw body travels with the
	// error for operator diagnosis.
	KindInvalidUpstreamPayload Kind = "invalid_upstream_payload"
	// KindBusinessRuleRejected marks upstream data that parsed fine but
	// failed the provider's validation rules.
	KindBusinessRuleRejected Kind = "business_rule_rejected"
	// KindUnknown is the boundary catch-all for anything unanticipated.
	KindUnknown Kind = "unknown"
)

// Error is a pipeline failure destined for the result channel. It never
// crosses the Run boundary as a Go error; it renders as the error-shaped
// result object instead.
type Error struct {
	Kind    Kind
	Message string
	// Fields carries optional diagnostic context ("body", "payload", ...)
	// that is merged into the rendered object alongside "error".
	Fields map[string]any
}

// Error implements the error interface for logging call sites.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// missingField builds the validation error for a required input field.
func missingField(field string) *Error {
	return &Error{Kind: KindMissingField, Message: field + "_missing"}
}

// invalidPayload builds a diagnostic error that preserves the literal
// upstream body so operators can see what the provider could not parse.
func invalidPayload(message string, rawBody []byte) *Error {
	return &Error{
		Kind:    KindInvalidUpstreamPayload,
		Message: message,
		Fields: map[string]any{
			"message": "unable to parse upstream payload",
			"body":    string(rawBody),
		},
	}
}

// rejected builds a business-rule rejection.
func rejected(message string) *Error {
	return &Error{Kind: KindBusinessRuleRejected, Message: message}
}

// render serialises the error into the result object. The output always
// carries an "error" key; diagnostic fields never override it.
func (e *Error) render() string {
	obj := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		obj[k] = v
	}
	obj["error"] = e.Message

	out, err := json.Marshal(obj)
	if err != nil {
		// A diagnostic field was unmarshalable; drop the extras and keep
		// the contract that the result is valid JSON.
		return `{"error": ` + strconv.Quote(e.Message) + `}`
	}
	return string(out)
}
