package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"monay-hq/authz/pkg/config"
	"monay-hq/authz/pkg/policy/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Namespace:                 "test",
		EvaluationDurationBuckets: []float64{0.001, 0.01, 0.1, 1},
	}
}

func TestNewCollector(t *testing.T) {
	cfg := testConfig()
	registry := prometheus.NewRegistry()

	collector := NewCollector(cfg, registry)

	if collector == nil {
		t.Fatal("Expected non-nil collector")
	}
	if collector.config != cfg {
		t.Error("Collector config not set correctly")
	}
	if collector.Registry() != registry {
		t.Error("Collector registry not set correctly")
	}
}

func TestNewCollector_Defaults(t *testing.T) {
	collector := NewCollector(nil, nil)

	if collector.config.Namespace != "authz" {
		t.Errorf("Expected namespace authz, got %s", collector.config.Namespace)
	}
	if len(collector.config.EvaluationDurationBuckets) == 0 {
		t.Error("Expected default evaluation buckets")
	}
	if collector.Registry() == nil {
		t.Fatal("Expected a registry to be created")
	}
}

func TestCollector_ObserveEvaluation(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	tests := []struct {
		outcome model.Outcome
		count   int
	}{
		{model.OutcomeApprove, 3},
		{model.OutcomeBlock, 1},
		{model.OutcomeEscalate, 2},
	}

	for _, tt := range tests {
		for i := 0; i < tt.count; i++ {
			collector.ObserveEvaluation(tt.outcome, 2*time.Millisecond)
		}
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			got := testutil.ToFloat64(collector.decisions.evaluationsTotal.WithLabelValues(string(tt.outcome)))
			if got != float64(tt.count) {
				t.Errorf("Expected %d evaluations, got %f", tt.count, got)
			}
		})
	}

	if n := testutil.CollectAndCount(collector.decisions.evaluationDuration); n != len(tests) {
		t.Errorf("Expected %d histogram series, got %d", len(tests), n)
	}
}

func TestCollector_ObserveRuleHit(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	collector.ObserveRuleHit("large-transfer")
	collector.ObserveRuleHit("large-transfer")
	collector.ObserveRuleHit("sanctioned-country")

	if got := testutil.ToFloat64(collector.decisions.ruleHitsTotal.WithLabelValues("large-transfer")); got != 2 {
		t.Errorf("Expected 2 hits, got %f", got)
	}
	if got := testutil.ToFloat64(collector.decisions.ruleHitsTotal.WithLabelValues("sanctioned-country")); got != 1 {
		t.Errorf("Expected 1 hit, got %f", got)
	}
}

func TestCollector_ObserveRuleHit_CardinalityOverflow(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())
	collector.ruleLimiter = NewCardinalityLimiter(2)

	collector.ObserveRuleHit("a")
	collector.ObserveRuleHit("b")
	collector.ObserveRuleHit("c")
	collector.ObserveRuleHit("d")

	if got := testutil.ToFloat64(collector.decisions.ruleHitsTotal.WithLabelValues(overflowRuleID)); got != 2 {
		t.Errorf("Expected 2 overflow hits, got %f", got)
	}
	if n := testutil.CollectAndCount(collector.decisions.ruleHitsTotal); n != 3 {
		t.Errorf("Expected 3 series, got %d", n)
	}
}

func TestCollector_ObserveAction(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	collector.ObserveAction("notify", "success")
	collector.ObserveAction("notify", "error")
	collector.ObserveAction("notify", "success")

	if got := testutil.ToFloat64(collector.decisions.actionsTotal.WithLabelValues("notify", "success")); got != 2 {
		t.Errorf("Expected 2, got %f", got)
	}
	if got := testutil.ToFloat64(collector.decisions.actionsTotal.WithLabelValues("notify", "error")); got != 1 {
		t.Errorf("Expected 1, got %f", got)
	}
}

func TestCollector_ObserveReload(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	collector.ObserveReload("error")
	if got := testutil.ToFloat64(collector.decisions.lastReload); got != 0 {
		t.Errorf("Expected no reload timestamp after failure, got %f", got)
	}

	collector.ObserveReload("success")
	if got := testutil.ToFloat64(collector.decisions.reloadsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 successful reload, got %f", got)
	}
	if got := testutil.ToFloat64(collector.decisions.lastReload); got == 0 {
		t.Error("Expected reload timestamp to be set")
	}
}

func TestCollector_Limits(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	collector.ObserveReservation(model.ScopeDaily, "reserved")
	collector.ObserveReservation(model.ScopeDaily, "rejected")
	collector.ObserveReservation(model.ScopeDaily, "reserved")
	collector.SetPendingHolds(4)

	if got := testutil.ToFloat64(collector.limits.reservationsTotal.WithLabelValues(string(model.ScopeDaily), "reserved")); got != 2 {
		t.Errorf("Expected 2 reservations, got %f", got)
	}
	if got := testutil.ToFloat64(collector.limits.pendingHolds); got != 4 {
		t.Errorf("Expected 4 pending holds, got %f", got)
	}
}

func TestCollector_Audit(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	collector.ObserveAuditRecord("success")
	collector.ObserveRetention(12, nil)
	collector.ObserveRetention(0, errors.New("database locked"))

	if got := testutil.ToFloat64(collector.audit.recordsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 record, got %f", got)
	}
	if got := testutil.ToFloat64(collector.audit.retentionDeleted); got != 12 {
		t.Errorf("Expected 12 deleted, got %f", got)
	}
	if got := testutil.ToFloat64(collector.audit.retentionRuns.WithLabelValues("error")); got != 1 {
		t.Errorf("Expected 1 failed run, got %f", got)
	}
}

func TestCollector_ObserveRequest(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	collector.ObserveRequest(http.MethodPost, "/v1/evaluate", http.StatusOK, 5*time.Millisecond)
	collector.ObserveRequest(http.MethodPost, "/v1/evaluate", http.StatusBadRequest, time.Millisecond)

	if got := testutil.ToFloat64(collector.http.requestsTotal.WithLabelValues("POST", "/v1/evaluate", "200")); got != 1 {
		t.Errorf("Expected 1 request, got %f", got)
	}
	if got := testutil.ToFloat64(collector.http.requestsTotal.WithLabelValues("POST", "/v1/evaluate", "400")); got != 1 {
		t.Errorf("Expected 1 request, got %f", got)
	}

	collector.ObserveThrottle("rate")
	if got := testutil.ToFloat64(collector.http.throttledTotal.WithLabelValues("rate")); got != 1 {
		t.Errorf("Expected 1 throttled request, got %f", got)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var collector *Collector

	collector.ObserveEvaluation(model.OutcomeApprove, time.Millisecond)
	collector.ObserveRuleHit("r1")
	collector.ObserveAction("notify", "success")
	collector.ObserveReload("success")
	collector.ObserveReservation(model.ScopeDaily, "reserved")
	collector.SetPendingHolds(1)
	collector.ObserveAuditRecord("success")
	collector.ObserveRetention(1, nil)
	collector.ObserveRequest("GET", "/", 200, time.Millisecond)
	collector.ObserveThrottle("rate")
}

func TestHandler(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())
	collector.ObserveEvaluation(model.OutcomeFlag, time.Millisecond)

	server := httptest.NewServer(collector.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !strings.Contains(string(body), `test_evaluations_total{outcome="flag"} 1`) {
		t.Errorf("Expected evaluation counter in output, got:\n%s", body)
	}

	// A second handler on the same registry must reuse the scrape counters.
	second := httptest.NewServer(collector.Handler())
	defer second.Close()
	resp2, err := http.Get(second.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp2.Body.Close()
	body, _ = io.ReadAll(resp2.Body)
	if !strings.Contains(string(body), `promhttp_metric_handler_requests_total{code="200"}`) {
		t.Errorf("Expected scrape counter in output, got:\n%s", body)
	}
}

func TestCardinalityLimiter(t *testing.T) {
	limiter := NewCardinalityLimiter(3)

	for i := 0; i < 3; i++ {
		if !limiter.Allow(fmt.Sprintf("label-%d", i)) {
			t.Errorf("Expected label-%d to be allowed", i)
		}
	}
	if limiter.Allow("label-3") {
		t.Error("Expected label beyond limit to be rejected")
	}
	if !limiter.Allow("label-0") {
		t.Error("Expected existing label to stay allowed")
	}
	if limiter.Count() != 3 {
		t.Errorf("Expected count 3, got %d", limiter.Count())
	}
}
