package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"monay-hq/authz/pkg/audit"
	auditstorage "monay-hq/authz/pkg/audit/storage"
	"monay-hq/authz/pkg/config"
	"monay-hq/authz/pkg/limits/ratelimit"
	"monay-hq/authz/pkg/limits/spend"
	"monay-hq/authz/pkg/policy/engine"
	"monay-hq/authz/pkg/policy/model"
	"monay-hq/authz/pkg/policy/store"
	"monay-hq/authz/pkg/telemetry/health"
	"monay-hq/authz/pkg/telemetry/metrics"
)

const testAdminToken = "s3cret-admin"

type fakeEngine struct {
	mu        sync.Mutex
	evaluated []*model.TransactionContext
	confirmed []string
	pending   map[string]bool
	err       error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{pending: make(map[string]bool)}
}

func (f *fakeEngine) Evaluate(ctx context.Context, tx *model.TransactionContext) (*model.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if tx.TransactionID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", engine.ErrInvalidRequest)
	}
	f.evaluated = append(f.evaluated, tx)

	outcome := model.OutcomeApprove
	if tx.Amount.GreaterThan(decimal.NewFromInt(1000)) {
		outcome = model.OutcomeEscalate
		f.pending[tx.TransactionID] = true
	}
	return &model.Decision{
		TransactionID: tx.TransactionID,
		EntityID:      tx.EntityID,
		Outcome:       outcome,
		EvaluatedAt:   time.Now(),
	}, nil
}

func (f *fakeEngine) Confirm(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pending[id] {
		return engine.ErrTransactionNotFound
	}
	delete(f.pending, id)
	f.confirmed = append(f.confirmed, id)
	return nil
}

func (f *fakeEngine) Invalidate(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, id)
	return nil
}

func (f *fakeEngine) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

type testServer struct {
	server    *Server
	handler   http.Handler
	engine    *fakeEngine
	store     *store.Store
	tracker   *spend.Tracker
	audit     *auditstorage.MemoryStorage
	collector *metrics.Collector
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ruleStore, err := store.New(context.Background(), store.Config{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	t.Cleanup(func() { _ = ruleStore.Close() })

	tracker := spend.NewTracker(spend.Config{SweepInterval: -1, Logger: discardLogger()})
	t.Cleanup(func() { _ = tracker.Close() })

	ts := &testServer{
		engine:    newFakeEngine(),
		store:     ruleStore,
		tracker:   tracker,
		audit:     auditstorage.NewMemoryStorage(),
		collector: metrics.NewCollector(&config.MetricsConfig{Namespace: "test"}, prometheus.NewRegistry()),
	}

	checker := health.New(time.Second)
	checker.RegisterCheck("rules", health.RulesCheck(ruleStore, 0))

	cfg := config.Default()
	cfg.Server.AdminToken = testAdminToken

	ts.server = NewServer(cfg.Server, cfg.Telemetry, Dependencies{
		Engine:  ts.engine,
		Rules:   ruleStore,
		Limits:  tracker,
		Audit:   ts.audit,
		Metrics: ts.collector,
		Health:  checker,
		Version: health.NewVersionInfo("1.0.0", "abc123", "2026-01-01"),
	}, discardLogger())
	ts.handler = ts.server.Handler()
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) admin(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	h := map[string]string{"Authorization": "Bearer " + testAdminToken}
	for k, v := range headers {
		h[k] = v
	}
	return ts.do(method, path, body, h)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Decode failed: %v (body %q)", err, rec.Body.String())
	}
}

func TestEvaluate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/v1/evaluate",
		`{"transactionId":"tx-1","entityId":"acme","amount":"250.10","fields":{"riskScore":42}}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var decision model.Decision
	decodeBody(t, rec, &decision)
	if decision.Outcome != model.OutcomeApprove {
		t.Errorf("Expected approve, got %s", decision.Outcome)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected X-Request-ID response header")
	}

	tx := ts.engine.evaluated[0]
	if !tx.Amount.Equal(decimal.RequireFromString("250.10")) {
		t.Errorf("Expected amount 250.10, got %s", tx.Amount)
	}
	if _, ok := tx.Fields["riskScore"].(json.Number); !ok {
		t.Errorf("Expected riskScore decoded as json.Number, got %T", tx.Fields["riskScore"])
	}
}

func TestEvaluate_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"malformed json", `{"transactionId":`, http.StatusBadRequest, CodeInvalidJSON},
		{"unknown field", `{"transactionId":"tx","entityId":"e","amount":"1","bogus":1}`, http.StatusBadRequest, CodeInvalidJSON},
		{"missing transaction id", `{"entityId":"e","amount":"1"}`, http.StatusBadRequest, CodeInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/v1/evaluate", tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			var resp ErrorResponse
			decodeBody(t, rec, &resp)
			if resp.Error.Code != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, resp.Error.Code)
			}
		})
	}
}

func TestEvaluate_EngineErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid request", engine.ErrInvalidRequest, http.StatusBadRequest},
		{"closed", engine.ErrClosed, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.engine.err = tt.err

			rec := ts.do(http.MethodPost, "/v1/evaluate", `{"transactionId":"tx","entityId":"e","amount":"1"}`, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestConfirmAndInvalidate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/v1/evaluate", `{"transactionId":"big","entityId":"acme","amount":"5000"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ts.engine.PendingCount() != 1 {
		t.Fatalf("Expected 1 pending transaction, got %d", ts.engine.PendingCount())
	}

	rec = ts.do(http.MethodPost, "/v1/transactions/big/confirm", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(ts.engine.confirmed) != 1 || ts.engine.confirmed[0] != "big" {
		t.Errorf("Expected big to be confirmed, got %v", ts.engine.confirmed)
	}

	rec = ts.do(http.MethodPost, "/v1/transactions/big/confirm", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for second confirm, got %d", rec.Code)
	}

	rec = ts.do(http.MethodPost, "/v1/transactions/unknown/invalidate", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected idempotent invalidate, got %d", rec.Code)
	}
}

const ruleBody = `{
	"id": "large-transfer",
	"name": "Large transfer",
	"category": "RISK_MANAGEMENT",
	"priority": 10,
	"active": true,
	"conditions": [{"field": "amount", "operator": "greaterThan", "value": 1000}],
	"actions": [{"type": "flag", "parameters": {"reason": "large transfer"}}]
}`

func TestRules_CRUD(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.admin(http.MethodPost, "/v1/rules", ruleBody, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if etag := rec.Header().Get("ETag"); etag != `"1"` {
		t.Errorf("Expected ETag \"1\", got %s", etag)
	}

	rec = ts.admin(http.MethodPost, "/v1/rules", ruleBody, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate, got %d", rec.Code)
	}

	rec = ts.admin(http.MethodGet, "/v1/rules/large-transfer", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var rule model.Rule
	decodeBody(t, rec, &rule)
	if rule.Name != "Large transfer" || rule.Version != 1 {
		t.Errorf("Unexpected rule: %+v", rule)
	}

	rec = ts.admin(http.MethodGet, "/v1/rules/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	rec = ts.admin(http.MethodGet, "/v1/rules", "", nil)
	var list ruleList
	decodeBody(t, rec, &list)
	if len(list.Rules) != 1 || list.SnapshotVersion == 0 {
		t.Errorf("Expected one rule in a published snapshot, got %+v", list)
	}
}

func TestRules_UpdatePreconditions(t *testing.T) {
	ts := newTestServer(t)
	if rec := ts.admin(http.MethodPost, "/v1/rules", ruleBody, nil); rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", rec.Code)
	}

	updated := strings.Replace(ruleBody, "Large transfer", "Very large transfer", 1)

	tests := []struct {
		name       string
		ifMatch    string
		wantStatus int
	}{
		{"missing if-match", "", http.StatusPreconditionRequired},
		{"malformed if-match", `"abc"`, http.StatusBadRequest},
		{"stale version", `"7"`, http.StatusPreconditionFailed},
		{"current version", `"1"`, http.StatusOK},
		{"now stale", `"1"`, http.StatusPreconditionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.ifMatch != "" {
				headers["If-Match"] = tt.ifMatch
			}
			rec := ts.admin(http.MethodPut, "/v1/rules/large-transfer", updated, headers)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}

	snap := ts.store.Snapshot()
	rule, _ := snap.Rule("large-transfer")
	if rule.Name != "Very large transfer" || rule.Version != 2 {
		t.Errorf("Expected updated rule at version 2, got %q v%d", rule.Name, rule.Version)
	}
}

func TestRules_Validation(t *testing.T) {
	ts := newTestServer(t)

	body := `{"id":"bad","name":"Bad","category":"RISK_MANAGEMENT","conditions":[],"actions":[{"type":"block"}]}`
	rec := ts.admin(http.MethodPost, "/v1/rules", body, nil)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.Error.Code != CodeValidationFailed || len(resp.Error.Fields) == 0 {
		t.Errorf("Expected field errors, got %+v", resp.Error)
	}
}

func TestRules_Toggle(t *testing.T) {
	ts := newTestServer(t)
	ts.admin(http.MethodPost, "/v1/rules", ruleBody, nil)

	rec := ts.admin(http.MethodPost, "/v1/rules/large-transfer/deactivate", "", map[string]string{"If-Match": "1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rule model.Rule
	decodeBody(t, rec, &rule)
	if rule.Active {
		t.Error("Expected rule to be inactive")
	}

	rec = ts.admin(http.MethodGet, "/v1/rules?active=true", "", nil)
	var list ruleList
	decodeBody(t, rec, &list)
	if len(list.Rules) != 0 {
		t.Errorf("Expected no active rules, got %d", len(list.Rules))
	}
}

func TestPolicies(t *testing.T) {
	ts := newTestServer(t)

	body := `{
		"id": "treasury",
		"name": "Treasury",
		"type": "transaction_limit",
		"priority": 1,
		"conditions": [{"field": "amount", "operator": "greaterThan", "value": 50000}],
		"requirements": {"requiredSignatures": 2, "approverRoles": ["cfo", "treasurer"]},
		"enforced": true
	}`
	rec := ts.admin(http.MethodPost, "/v1/policies", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.admin(http.MethodPost, "/v1/policies/treasury/unenforce", "", map[string]string{"If-Match": `"1"`})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.admin(http.MethodGet, "/v1/policies?enforced=true", "", nil)
	var list policyList
	decodeBody(t, rec, &list)
	if len(list.Policies) != 0 {
		t.Errorf("Expected no enforced policies, got %d", len(list.Policies))
	}
}

func TestAdminAuth(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		auth       string
		wantStatus int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + testAdminToken, http.StatusUnauthorized},
		{"valid", "Bearer " + testAdminToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.auth != "" {
				headers["Authorization"] = tt.auth
			}
			rec := ts.do(http.MethodGet, "/v1/rules", "", headers)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}

	// Evaluation is not an admin route.
	rec := ts.do(http.MethodPost, "/v1/evaluate", `{"transactionId":"tx","entityId":"e","amount":"1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected evaluate without token, got %d", rec.Code)
	}
}

func TestLimits(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.admin(http.MethodPut, "/v1/entities/acme/limits/daily", `{"limit":"10000.00","location":"UTC"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var usage spend.Usage
	decodeBody(t, rec, &usage)
	if !usage.Limit.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("Expected limit 10000, got %s", usage.Limit)
	}

	rec = ts.admin(http.MethodGet, "/v1/limits/daily", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"unknown scope", "/v1/entities/acme/limits/weekly", `{"limit":"1"}`, http.StatusBadRequest},
		{"exponent amount", "/v1/entities/acme/limits/daily", `{"limit":"1e6"}`, http.StatusBadRequest},
		{"negative", "/v1/entities/acme/limits/daily", `{"limit":"-5"}`, http.StatusBadRequest},
		{"bad location", "/v1/entities/acme/limits/daily", `{"limit":"5","location":"Mars/Olympus"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.admin(http.MethodPut, tt.path, tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}

	rec = ts.admin(http.MethodDelete, "/v1/entities/acme/limits/daily", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func seedAudit(t *testing.T, s audit.Storage, n int) {
	t.Helper()
	prev := ""
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		r := &audit.Record{
			ID:            "rec-" + string(rune('a'+i)),
			TransactionID: "tx-" + string(rune('a'+i)),
			EntityID:      "acme",
			Outcome:       string(model.OutcomeApprove),
			Actor:         "engine",
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			PrevHash:      prev,
		}
		hash, err := audit.ComputeHash(r)
		if err != nil {
			t.Fatalf("ComputeHash failed: %v", err)
		}
		r.Hash = hash
		prev = hash
		if err := s.Store(context.Background(), r); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}
}

func TestAudit(t *testing.T) {
	ts := newTestServer(t)
	seedAudit(t, ts.audit, 3)

	rec := ts.admin(http.MethodGet, "/v1/audit?entityId=acme&limit=2", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var page auditPage
	decodeBody(t, rec, &page)
	if len(page.Records) != 2 || page.Total != 3 {
		t.Errorf("Expected 2 of 3 records, got %d of %d", len(page.Records), page.Total)
	}

	rec = ts.admin(http.MethodGet, "/v1/audit?limit=-1", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative limit, got %d", rec.Code)
	}
	rec = ts.admin(http.MethodGet, "/v1/audit?start=yesterday", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad start time, got %d", rec.Code)
	}

	rec = ts.admin(http.MethodGet, "/v1/audit/verify", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var res verifyResult
	decodeBody(t, rec, &res)
	if !res.Valid || res.Checked != 3 {
		t.Errorf("Expected a valid chain of 3, got %+v", res)
	}

	rec = ts.admin(http.MethodGet, "/v1/audit/verify?entityId=acme", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for filtered verification, got %d", rec.Code)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/ready", "/version", "/metrics"} {
		rec := ts.do(http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}

	ts.do(http.MethodPost, "/v1/evaluate", `{"transactionId":"tx","entityId":"e","amount":"1"}`, nil)
	rec := ts.do(http.MethodGet, "/metrics", "", nil)
	if !strings.Contains(rec.Body.String(), `test_http_requests_total{code="200",method="POST",route="/v1/evaluate"} 1`) {
		t.Errorf("Expected evaluate request metric, got:\n%s", rec.Body.String())
	}
}

func TestRecovery(t *testing.T) {
	h := recoveryMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}

func TestRequestID_PropagatesClientValue(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/health", "", map[string]string{RequestIDHeader: "client-123"})
	if got := rec.Header().Get(RequestIDHeader); got != "client-123" {
		t.Errorf("Expected client-123, got %s", got)
	}
}

func TestBodyLimit(t *testing.T) {
	ts := newTestServer(t)
	ts.server.config.MaxBodyBytes = 64
	ts.handler = ts.server.Handler()

	body := `{"transactionId":"tx","entityId":"e","amount":"1","fields":{"memo":"` + strings.Repeat("x", 200) + `"}}`
	rec := ts.do(http.MethodPost, "/v1/evaluate", body, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t)
	ts.server.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 0.001, Burst: 2})
	ts.handler = ts.server.Handler()

	evaluate := func(client string) *httptest.ResponseRecorder {
		return ts.do(http.MethodPost, "/v1/evaluate",
			`{"transactionId":"tx","entityId":"e","amount":"1"}`, map[string]string{"X-Client-ID": client})
	}

	for i := 0; i < 2; i++ {
		if rec := evaluate("wallet-app"); rec.Code != http.StatusOK {
			t.Fatalf("Expected burst request %d to pass, got %d", i, rec.Code)
		}
	}

	rec := evaluate("wallet-app")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
	var errResp ErrorResponse
	decodeBody(t, rec, &errResp)
	if errResp.Error.Code != CodeRateLimited {
		t.Errorf("Expected code %s, got %s", CodeRateLimited, errResp.Error.Code)
	}

	if rec := evaluate("batch-job"); rec.Code != http.StatusOK {
		t.Errorf("Expected other caller to pass, got %d", rec.Code)
	}
	// Admin routes are not throttled.
	if rec := ts.admin(http.MethodGet, "/v1/rules", "", map[string]string{"X-Client-ID": "wallet-app"}); rec.Code != http.StatusOK {
		t.Errorf("Expected admin route to pass, got %d", rec.Code)
	}
}

func TestCallerKey(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		remote string
		want   string
	}{
		{"client header", "X-Client-ID", "wallet-app", "10.0.0.1:5555", "client:wallet-app"},
		{"falls back to ip", "X-Client-ID", "", "10.0.0.1:5555", "ip:10.0.0.1"},
		{"header disabled", "", "wallet-app", "10.0.0.2:1", "ip:10.0.0.2"},
		{"no port", "X-Client-ID", "", "unix", "ip:unix"},
		{"client certificate wins", "X-Client-ID", "wallet-app", "10.0.0.1:5555", "cert:payments-api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/evaluate", nil)
			r.RemoteAddr = tt.remote
			if tt.value != "" {
				r.Header.Set("X-Client-ID", tt.value)
			}
			if strings.HasPrefix(tt.want, "cert:") {
				leaf := &x509.Certificate{Subject: pkix.Name{CommonName: strings.TrimPrefix(tt.want, "cert:")}}
				r.TLS = &tls.ConnectionState{VerifiedChains: [][]*x509.Certificate{{leaf}}}
			}
			if got := callerKey(r, tt.header); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestStart_InvalidTLS(t *testing.T) {
	ts := newTestServer(t)
	ts.server.config.ListenAddress = "127.0.0.1:0"
	ts.server.config.TLS = config.TLSConfig{
		Enabled:  true,
		CertFile: "/nonexistent/server.pem",
		KeyFile:  "/nonexistent/server-key.pem",
	}

	if err := ts.server.Start(context.Background()); err == nil {
		t.Fatal("Expected error for missing certificate")
	}
	if ts.server.IsRunning() {
		t.Error("Expected server to not be running")
	}
}

func TestStartAndStop(t *testing.T) {
	ts := newTestServer(t)
	ts.server.config.ListenAddress = "127.0.0.1:0"

	done := make(chan error, 1)
	go func() { done <- ts.server.Start(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !ts.server.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !ts.server.IsRunning() {
		t.Fatal("Expected server to be running")
	}

	ts.server.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected Start to return after Stop")
	}
	if ts.server.IsRunning() {
		t.Error("Expected server to be stopped")
	}
}
