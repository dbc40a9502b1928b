// Package policy integrates the Open Policy Agent (OPA) engine with the
// newton provider runtime, evaluating Rego policies over normalized provider
// output.
//
// The package owns Rego module parsing and prepared-query reuse, and builds
// the canonical policy input document ({"params": ..., "data": ...}) from a
// provider result. It is intentionally decoupled from HTTP concerns so
// policies can be simulated and tested independently of the runtime.
package policy
