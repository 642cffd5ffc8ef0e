// Package tracing exports task lifecycle spans to OpenTelemetry back-ends.
// The surface is deliberately narrow – one span per task lifetime – so that
// applications which do not require tracing pay nothing beyond a no-op
// tracer.
package tracing
