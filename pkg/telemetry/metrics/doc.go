// Package metrics provides Prometheus metrics for the authorization service.
//
// # Overview
//
// A single Collector owns the metric registry and implements the observer
// interfaces exposed by the policy engine, rule store, action dispatcher,
// spend tracker and audit recorder. Components receive the collector as
// their Observer and never import Prometheus themselves.
//
// # Metrics Categories
//
//   - Decision Metrics: evaluations by outcome, latency, rule hits, actions, reloads
//   - Limit Metrics: reservation events by scope and result, pending holds
//   - Audit Metrics: audit records by result, retention runs
//   - HTTP Metrics: API requests by route and status code
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	eng, _ := engine.New(engine.Config{Observer: collector}, deps)
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// # Cardinality
//
// Rule IDs are bounded by a CardinalityLimiter; hits for rules beyond the
// limit are counted under the "other" label.
package metrics
