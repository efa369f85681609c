// Package server provides the HTTP API of the authorization service.
//
// The server wraps the policy engine, the rule store, the spend tracker
// and audit storage behind a JSON API and manages graceful shutdown.
//
// # Basic Usage
//
//	srv := server.NewServer(cfg.Server, cfg.Telemetry, server.Dependencies{
//	    Engine:  eng,
//	    Rules:   ruleStore,
//	    Limits:  tracker,
//	    Audit:   auditStorage,
//	    Metrics: collector,
//	    Tracer:  tracer,
//	    Health:  checker,
//	}, logger)
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Start returns when ctx is cancelled or Stop is called, after in-flight
// requests complete or ServerConfig.ShutdownTimeout elapses.
//
// # Routes
//
// Transactions:
//
//   - POST /v1/evaluate - evaluate a transaction and return the Decision
//   - POST /v1/transactions/{id}/confirm - commit held usage
//   - POST /v1/transactions/{id}/invalidate - release held usage
//
// Administration (bearer AdminToken when configured):
//
//   - GET, POST /v1/rules; GET, PUT /v1/rules/{id}
//   - POST /v1/rules/{id}/activate, /deactivate
//   - POST /v1/rules/reload
//   - GET, POST /v1/policies; GET, PUT /v1/policies/{id}
//   - POST /v1/policies/{id}/enforce, /unenforce
//   - GET /v1/limits/{scope}
//   - GET /v1/entities/{entity}/usage/{scope}
//   - PUT, DELETE /v1/entities/{entity}/limits/{scope}
//   - GET /v1/audit, GET /v1/audit/verify
//
// Operations: liveness, readiness, /version and /metrics.
//
// Writes to existing rules and policies require an If-Match header holding
// the current version; a stale version answers 412 Precondition Failed and
// a missing one 428 Precondition Required. Successful writes return the
// new version in ETag.
//
// # Middleware Chain
//
// Requests pass through, outermost first: recovery, request ID, tracing,
// logging and body size limit. Route handlers additionally record request
// metrics under their route pattern.
package server
