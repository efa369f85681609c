// Package tracing provides OpenTelemetry tracing for the authorization service.
//
// Every HTTP request gets a server span through Tracer.Middleware, which
// continues any W3C trace context (traceparent) sent by the caller and
// returns the trace ID in the X-Trace-ID response header. The policy engine
// opens a child span per evaluation and records the transaction ID, entity
// ID, outcome and rule snapshot version on it.
//
// Spans are exported over OTLP/gRPC. When tracing is disabled a noop tracer
// is used and instrumentation costs almost nothing.
//
// # Sampling
//
//   - always: sample every trace
//   - never: sample nothing
//   - ratio: sample a fraction of traces by trace ID
//
// All samplers respect the parent's sampling decision.
//
// # Configuration
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    sampler: ratio
//	    sample_ratio: 0.1
//	    endpoint: "otel-collector:4317"
//	    otlp:
//	      insecure: true
package tracing
