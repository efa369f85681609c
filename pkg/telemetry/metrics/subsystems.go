package metrics

import (
	"monay-hq/authz/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// DecisionMetrics tracks evaluation, rule and action metrics.
//
// Metrics:
//   - authz_evaluations_total: evaluations by outcome
//   - authz_evaluation_duration_seconds: evaluation latency by outcome
//   - authz_rule_hits_total: matched rules by rule ID
//   - authz_actions_total: dispatched actions by type and result
//   - authz_rule_reloads_total: rule store reloads by result
//   - authz_rule_last_reload_timestamp_seconds: time of the last successful reload
type DecisionMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	ruleHitsTotal      *prometheus.CounterVec
	actionsTotal       *prometheus.CounterVec
	reloadsTotal       *prometheus.CounterVec
	lastReload         prometheus.Gauge
}

// NewDecisionMetrics creates and registers decision metrics.
func NewDecisionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DecisionMetrics {
	dm := &DecisionMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "evaluations_total",
				Help:      "Total number of transaction evaluations",
			},
			[]string{"outcome"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of transaction evaluation in seconds",
				Buckets:   cfg.EvaluationDurationBuckets,
			},
			[]string{"outcome"},
		),
		ruleHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "rule_hits_total",
				Help:      "Number of times a rule's conditions matched",
			},
			[]string{"rule_id"},
		),
		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "actions_total",
				Help:      "Total number of dispatched actions",
			},
			[]string{"type", "result"},
		),
		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "rule_reloads_total",
				Help:      "Total number of rule store reloads",
			},
			[]string{"result"},
		),
		lastReload: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "rule_last_reload_timestamp_seconds",
				Help:      "Unix time of the last successful rule reload",
			},
		),
	}

	registry.MustRegister(
		dm.evaluationsTotal,
		dm.evaluationDuration,
		dm.ruleHitsTotal,
		dm.actionsTotal,
		dm.reloadsTotal,
		dm.lastReload,
	)
	return dm
}

// LimitMetrics tracks spend reservations.
type LimitMetrics struct {
	reservationsTotal *prometheus.CounterVec
	pendingHolds      prometheus.Gauge
}

// NewLimitMetrics creates and registers limit metrics.
func NewLimitMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *LimitMetrics {
	lm := &LimitMetrics{
		reservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "limits",
				Name:      "reservations_total",
				Help:      "Spend reservation events by scope and result",
			},
			[]string{"scope", "result"},
		),
		pendingHolds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "limits",
				Name:      "pending_holds",
				Help:      "Held transactions awaiting confirmation",
			},
		),
	}
	registry.MustRegister(lm.reservationsTotal, lm.pendingHolds)
	return lm
}

// AuditMetrics tracks audit recording and retention.
type AuditMetrics struct {
	recordsTotal     *prometheus.CounterVec
	retentionRuns    *prometheus.CounterVec
	retentionDeleted prometheus.Counter
}

// NewAuditMetrics creates and registers audit metrics.
func NewAuditMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AuditMetrics {
	am := &AuditMetrics{
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "audit",
				Name:      "records_total",
				Help:      "Audit records by result",
			},
			[]string{"result"},
		),
		retentionRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "audit",
				Name:      "retention_runs_total",
				Help:      "Retention pruning runs by result",
			},
			[]string{"result"},
		),
		retentionDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "audit",
				Name:      "retention_deleted_total",
				Help:      "Audit records deleted by retention",
			},
		),
	}
	registry.MustRegister(am.recordsTotal, am.retentionRuns, am.retentionDeleted)
	return am
}

// HTTPMetrics tracks API requests.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	throttledTotal  *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers HTTP metrics.
func NewHTTPMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *HTTPMetrics {
	hm := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		throttledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "throttled_total",
				Help:      "Evaluation requests rejected by the caller rate limit, by reason",
			},
			[]string{"reason"},
		),
	}
	registry.MustRegister(hm.requestsTotal, hm.requestDuration, hm.throttledTotal)
	return hm
}
