// Package telemetry groups the observability packages of the authorization
// service.
//
// # Components
//
//   - logging: slog handlers with context fields and redaction of payment
//     identifiers and credentials
//   - metrics: Prometheus collectors for decisions, limits, audit and HTTP
//   - tracing: OpenTelemetry spans around evaluation and the HTTP API
//   - health: Liveness and readiness endpoints backed by component checks
//
// # Usage
//
//	logger, err := logging.New(cfg.Telemetry.Logging, os.Stderr)
//	if err != nil {
//	    return err
//	}
//
//	registry := prometheus.NewRegistry()
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, registry)
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(ctx)
//
// Each sub-package is independent; the server and CLI wire them together.
package telemetry
