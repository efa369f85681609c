package metrics

import (
	"strconv"
	"sync"
	"time"

	"monay-hq/authz/pkg/config"
	"monay-hq/authz/pkg/policy/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// maxRuleCardinality bounds the number of distinct rule_id label values.
const maxRuleCardinality = 5000

// overflowRuleID replaces rule IDs once the cardinality limit is reached.
const overflowRuleID = "other"

// Collector owns every metric exported by the authorization service. It
// implements the observer interfaces of the engine, the rule store, the
// spend tracker, the action dispatcher and the audit recorder.
//
// A nil *Collector is valid and records nothing.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	decisions *DecisionMetrics
	limits    *LimitMetrics
	audit     *AuditMetrics
	http      *HTTPMetrics

	ruleLimiter *CardinalityLimiter
}

// NewCollector creates a collector and registers all metrics on registry.
// A new registry is created when registry is nil.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if cfg == nil {
		cfg = &config.MetricsConfig{}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "authz"
	}
	if len(cfg.EvaluationDurationBuckets) == 0 {
		// Evaluations are in-process and expected to finish well under 50ms.
		cfg.EvaluationDurationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return &Collector{
		config:      cfg,
		registry:    registry,
		decisions:   NewDecisionMetrics(cfg, registry),
		limits:      NewLimitMetrics(cfg, registry),
		audit:       NewAuditMetrics(cfg, registry),
		http:        NewHTTPMetrics(cfg, registry),
		ruleLimiter: NewCardinalityLimiter(maxRuleCardinality),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveEvaluation records a completed evaluation.
func (c *Collector) ObserveEvaluation(outcome model.Outcome, duration time.Duration) {
	if c == nil {
		return
	}
	c.decisions.evaluationsTotal.WithLabelValues(string(outcome)).Inc()
	c.decisions.evaluationDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

// ObserveRuleHit records a rule whose conditions matched.
func (c *Collector) ObserveRuleHit(ruleID string) {
	if c == nil {
		return
	}
	if !c.ruleLimiter.Allow(ruleID) {
		ruleID = overflowRuleID
	}
	c.decisions.ruleHitsTotal.WithLabelValues(ruleID).Inc()
}

// ObserveAction records a dispatched action and its result.
func (c *Collector) ObserveAction(actionType, result string) {
	if c == nil {
		return
	}
	c.decisions.actionsTotal.WithLabelValues(actionType, result).Inc()
}

// ObserveReload records a rule store reload attempt.
func (c *Collector) ObserveReload(result string) {
	if c == nil {
		return
	}
	c.decisions.reloadsTotal.WithLabelValues(result).Inc()
	if result == "success" {
		c.decisions.lastReload.SetToCurrentTime()
	}
}

// ObserveReservation records a spend reservation lifecycle event.
func (c *Collector) ObserveReservation(scope model.LimitScope, result string) {
	if c == nil {
		return
	}
	c.limits.reservationsTotal.WithLabelValues(string(scope), result).Inc()
}

// SetPendingHolds sets the number of held transactions awaiting confirmation.
func (c *Collector) SetPendingHolds(n int) {
	if c == nil {
		return
	}
	c.limits.pendingHolds.Set(float64(n))
}

// ObserveAuditRecord records the fate of an audit record.
func (c *Collector) ObserveAuditRecord(result string) {
	if c == nil {
		return
	}
	c.audit.recordsTotal.WithLabelValues(result).Inc()
}

// ObserveRetention records a retention pruning run.
func (c *Collector) ObserveRetention(deleted int64, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.audit.retentionRuns.WithLabelValues("error").Inc()
		return
	}
	c.audit.retentionRuns.WithLabelValues("success").Inc()
	c.audit.retentionDeleted.Add(float64(deleted))
}

// ObserveRequest records a served HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	code := strconv.Itoa(status)
	c.http.requestsTotal.WithLabelValues(method, route, code).Inc()
	c.http.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveThrottle records a request rejected by the caller rate limit.
func (c *Collector) ObserveThrottle(reason string) {
	if c == nil {
		return
	}
	c.http.throttledTotal.WithLabelValues(reason).Inc()
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values tracked.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter with the given maximum.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether a label value may be used. Values already seen are
// always allowed; new values are allowed until the limit is reached.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
