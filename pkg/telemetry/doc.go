// Package telemetry wires OpenTelemetry exporters and meters for the newton
// provider runtime and egress proxy.
//
// It centralises trace provider setup, applies service resource attributes,
// and offers recording helpers that attach provider run outcomes to metrics
// so operators can correlate normalization failures with upstream behaviour.
package telemetry
