// Package governance holds the runtime safety controls applied by the egress
// proxy, chiefly per-client fixed-window rate limiting.
//
// State is process-local. The proxy data plane depends on these primitives to
// protect upstream quotas without introducing extra infrastructure coupling.
package governance
