// Package health provides liveness, readiness and version endpoints.
//
// # Endpoints
//
//   - /health: liveness, the process is running
//   - /ready: readiness, every critical component answers
//   - /version: build information
//
// # Usage
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("rules", health.RulesCheck(ruleStore, 0))
//	checker.RegisterCheck("limits", health.LimitsCheck(limitsBackend))
//	checker.RegisterOptionalCheck("audit", health.AuditCheck(auditStorage))
//
//	health.Register(mux, checker, cfg.Telemetry.Health, health.NewVersionInfo(version, commit, date))
//
// # Status
//
// Readiness aggregates component checks run concurrently, each bounded by
// the checker timeout. A failing critical check reports "unhealthy" with
// 503; a failing optional check reports "degraded" with 200.
package health
