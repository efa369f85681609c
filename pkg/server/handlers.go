package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"monay-hq/authz/pkg/audit"
	"monay-hq/authz/pkg/policy/model"
	"monay-hq/authz/pkg/telemetry/logging"
)

// decodeJSON decodes the request body into v. Numbers inside untyped
// fields are kept as json.Number so amounts never pass through float64.
func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, err)
		return
	}
	writeBadRequest(w, CodeInvalidJSON, err.Error())
}

// handleEvaluate decides a transaction.
//
// POST /v1/evaluate
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var tx model.TransactionContext
	if err := decodeJSON(r, &tx); err != nil {
		writeDecodeError(w, err)
		return
	}

	ctx := logging.WithTransactionID(r.Context(), tx.TransactionID)
	ctx = logging.WithEntityID(ctx, tx.EntityID)

	decision, err := s.deps.Engine.Evaluate(ctx, &tx)
	if err != nil {
		writeError(w, err)
		return
	}
	s.updatePending()
	writeJSON(w, http.StatusOK, decision)
}

// handleConfirm commits the held usage of a transaction.
//
// POST /v1/transactions/{id}/confirm
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := logging.WithTransactionID(r.Context(), id)

	err := s.deps.Engine.Confirm(ctx, id)
	s.updatePending()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transactionId": id, "status": "confirmed"})
}

// handleInvalidate releases the held usage of a transaction.
//
// POST /v1/transactions/{id}/invalidate
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := logging.WithTransactionID(r.Context(), id)

	err := s.deps.Engine.Invalidate(ctx, id)
	s.updatePending()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transactionId": id, "status": "invalidated"})
}

func (s *Server) updatePending() {
	s.deps.Metrics.SetPendingHolds(s.deps.Engine.PendingCount())
}

// expectedVersion reads the version precondition from If-Match. Both
// quoted and bare forms are accepted.
func expectedVersion(r *http.Request) (int64, bool, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" {
		return 0, false, nil
	}
	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, false, fmt.Errorf("If-Match must be a positive version, got %q", r.Header.Get("If-Match"))
	}
	return v, true, nil
}

// requireVersion writes an error and returns false when If-Match is
// missing or malformed.
func requireVersion(w http.ResponseWriter, r *http.Request) (int64, bool) {
	v, ok, err := expectedVersion(r)
	if err != nil {
		writeBadRequest(w, CodeInvalidValue, err.Error())
		return 0, false
	}
	if !ok {
		writeJSON(w, http.StatusPreconditionRequired, newErrorResponse(
			"If-Match header with the current version is required", ErrorTypeInvalidRequest, CodeVersionRequired,
		))
		return 0, false
	}
	return v, true
}

func setETag(w http.ResponseWriter, version int64) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
}

type ruleList struct {
	SnapshotVersion int64         `json:"snapshotVersion"`
	Rules           []*model.Rule `json:"rules"`
}

// GET /v1/rules
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rules == nil {
		writeUnavailable(w, "rule store")
		return
	}
	snap := s.deps.Rules.Snapshot()
	out := ruleList{Rules: []*model.Rule{}}
	if snap != nil {
		out.SnapshotVersion = snap.Version
		activeOnly := r.URL.Query().Get("active") == "true"
		for _, rule := range snap.Rules {
			if activeOnly && !rule.Active {
				continue
			}
			out.Rules = append(out.Rules, rule)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /v1/rules/{id}
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rules == nil {
		writeUnavailable(w, "rule store")
		return
	}
	id := r.PathValue("id")
	snap := s.deps.Rules.Snapshot()
	if snap == nil {
		writeError(w, fmt.Errorf("rule %q: %w", id, model.ErrNotFound))
		return
	}
	rule, ok := snap.Rule(id)
	if !ok {
		writeError(w, fmt.Errorf("rule %q: %w", id, model.ErrNotFound))
		return
	}
	setETag(w, rule.Version)
	writeJSON(w, http.StatusOK, rule)
}

// POST /v1/rules
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rules == nil {
		writeUnavailable(w, "rule store")
		return
	}
	var rule model.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeDecodeError(w, err)
		return
	}
	created, err := s.deps.Rules.CreateRule(r.Context(), &rule)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "rule created", "rule_id", created.ID, "version", created.Version)
	setETag(w, created.Version)
	writeJSON(w, http.StatusCreated, created)
}

// PUT /v1/rules/{id}
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rules == nil {
		writeUnavailable(w, "rule store")
		return
	}
	version, ok := requireVersion(w, r)
	if !ok {
		return
	}
	var rule model.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeDecodeError(w, err)
		return
	}
	id := r.PathValue("id")
	if rule.ID != "" && rule.ID != id {
		writeBadRequest(w, CodeInvalidValue, fmt.Sprintf("body id %q does not match path id %q", rule.ID, id))
		return
	}
	rule.ID = id

	updated, err := s.deps.Rules.UpdateRule(r.Context(), &rule, version)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "rule updated", "rule_id", updated.ID, "version", updated.Version)
	setETag(w, updated.Version)
	writeJSON(w, http.StatusOK, updated)
}

// POST /v1/rules/{id}/activate and /deactivate
func (s *Server) handleToggleRule(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Rules == nil {
			writeUnavailable(w, "rule store")
			return
		}
		version, ok := requireVersion(w, r)
		if !ok {
			return
		}
		rule, err := s.deps.Rules.ToggleRule(r.Context(), r.PathValue("id"), active, version)
		if err != nil {
			writeError(w, err)
			return
		}
		s.logger.InfoContext(r.Context(), "rule toggled", "rule_id", rule.ID, "active", active, "version", rule.Version)
		setETag(w, rule.Version)
		writeJSON(w, http.StatusOK, rule)
	}
}

// POST /v1/rules/reload
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rules == nil {
		writeUnavailable(w, "rule store")
		return
	}
	if err := s.deps.Rules.Reload(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	var version int64
	if snap := s.deps.Rules.Snapshot(); snap != nil {
		version = snap.Version
	}
	writeJSON(w, http.StatusOK, map[string]int64{"snapshotVersion": version})
}

type policyList struct {
	SnapshotVersion int64                   `json:"snapshotVersion"`
	Policies        []*model.MultisigPolicy `json:"policies"`
}

// GET /v1/policies
func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rules == nil {
		writeUnavailable(w, "rule store")
		return
	}
	snap := s.deps.Rules.Snapshot()
	out := policyList{Policies: []*model.MultisigPolicy{}}
	if snap != nil {
		out.SnapshotVersion = snap.Version
		enforcedOnly := r.URL.Query().Get("enforced") == "true"
		for _, p := range snap.Policies {
			if enforcedOnly && !p.Enforced {
				continue
			}
			out.Policies = append(out.Policies, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /v1/policies/{id}
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rules == nil {
		writeUnavailable(w, "rule store")
		return
	}
	id := r.PathValue("id")
	snap := s.deps.Rules.Snapshot()
	if snap == nil {
		writeError(w, fmt.Errorf("policy %q: %w", id, model.ErrNotFound))
		return
	}
	p, ok := snap.Policy(id)
	if !ok {
		writeError(w, fmt.Errorf("policy %q: %w", id, model.ErrNotFound))
		return
	}
	setETag(w, p.Version)
	writeJSON(w, http.StatusOK, p)
}

// POST /v1/policies
func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rules == nil {
		writeUnavailable(w, "rule store")
		return
	}
	var p model.MultisigPolicy
	if err := decodeJSON(r, &p); err != nil {
		writeDecodeError(w, err)
		return
	}
	created, err := s.deps.Rules.CreatePolicy(r.Context(), &p)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "policy created", "policy_id", created.ID, "version", created.Version)
	setETag(w, created.Version)
	writeJSON(w, http.StatusCreated, created)
}

// PUT /v1/policies/{id}
func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rules == nil {
		writeUnavailable(w, "rule store")
		return
	}
	version, ok := requireVersion(w, r)
	if !ok {
		return
	}
	var p model.MultisigPolicy
	if err := decodeJSON(r, &p); err != nil {
		writeDecodeError(w, err)
		return
	}
	id := r.PathValue("id")
	if p.ID != "" && p.ID != id {
		writeBadRequest(w, CodeInvalidValue, fmt.Sprintf("body id %q does not match path id %q", p.ID, id))
		return
	}
	p.ID = id

	updated, err := s.deps.Rules.UpdatePolicy(r.Context(), &p, version)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "policy updated", "policy_id", updated.ID, "version", updated.Version)
	setETag(w, updated.Version)
	writeJSON(w, http.StatusOK, updated)
}

// POST /v1/policies/{id}/enforce and /unenforce
func (s *Server) handleTogglePolicy(enforced bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Rules == nil {
			writeUnavailable(w, "rule store")
			return
		}
		version, ok := requireVersion(w, r)
		if !ok {
			return
		}
		p, err := s.deps.Rules.ToggleEnforcement(r.Context(), r.PathValue("id"), enforced, version)
		if err != nil {
			writeError(w, err)
			return
		}
		s.logger.InfoContext(r.Context(), "policy toggled", "policy_id", p.ID, "enforced", enforced, "version", p.Version)
		setETag(w, p.Version)
		writeJSON(w, http.StatusOK, p)
	}
}

func parseScope(w http.ResponseWriter, r *http.Request) (model.LimitScope, bool) {
	scope := model.LimitScope(r.PathValue("scope"))
	if !scope.Valid() {
		writeBadRequest(w, CodeInvalidValue, fmt.Sprintf("unknown limit scope %q", scope))
		return "", false
	}
	return scope, true
}

// GET /v1/limits/{scope}
func (s *Server) handleListUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Limits == nil {
		writeUnavailable(w, "spend tracker")
		return
	}
	scope, ok := parseScope(w, r)
	if !ok {
		return
	}
	usage, err := s.deps.Limits.ListUsage(r.Context(), scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scope": scope, "entities": usage})
}

// GET /v1/entities/{entity}/usage/{scope}
func (s *Server) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Limits == nil {
		writeUnavailable(w, "spend tracker")
		return
	}
	scope, ok := parseScope(w, r)
	if !ok {
		return
	}
	usage, err := s.deps.Limits.GetUsage(r.Context(), r.PathValue("entity"), scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

type setLimitRequest struct {
	Limit    string `json:"limit"`
	Location string `json:"location,omitempty"`
}

// PUT /v1/entities/{entity}/limits/{scope}
func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Limits == nil {
		writeUnavailable(w, "spend tracker")
		return
	}
	scope, ok := parseScope(w, r)
	if !ok {
		return
	}
	var req setLimitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	limit, err := model.ParseAmount(req.Limit)
	if err != nil {
		writeBadRequest(w, CodeInvalidValue, err.Error())
		return
	}
	if limit.IsNegative() {
		writeBadRequest(w, CodeInvalidValue, "limit cannot be negative")
		return
	}
	if req.Location != "" {
		if _, err := time.LoadLocation(req.Location); err != nil {
			writeBadRequest(w, CodeInvalidValue, fmt.Sprintf("unknown location %q", req.Location))
			return
		}
	}

	entity := r.PathValue("entity")
	if err := s.deps.Limits.SetLimit(r.Context(), entity, scope, limit, req.Location); err != nil {
		writeError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "spend limit set", "entity_id", entity, "scope", scope, "limit", limit.String())

	usage, err := s.deps.Limits.GetUsage(r.Context(), entity, scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// DELETE /v1/entities/{entity}/limits/{scope}
func (s *Server) handleRemoveLimit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Limits == nil {
		writeUnavailable(w, "spend tracker")
		return
	}
	scope, ok := parseScope(w, r)
	if !ok {
		return
	}
	entity := r.PathValue("entity")
	if err := s.deps.Limits.RemoveLimit(r.Context(), entity, scope); err != nil {
		writeError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "spend limit removed", "entity_id", entity, "scope", scope)
	w.WriteHeader(http.StatusNoContent)
}

// parseAuditQuery builds a query from URL parameters.
func parseAuditQuery(r *http.Request) (*audit.Query, error) {
	v := r.URL.Query()
	q := &audit.Query{
		TransactionID: v.Get("transactionId"),
		EntityID:      v.Get("entityId"),
		Outcome:       v.Get("outcome"),
		RuleID:        v.Get("ruleId"),
		PolicyID:      v.Get("policyId"),
		SortOrder:     v.Get("order"),
	}

	for name, dst := range map[string]**time.Time{"start": &q.StartTime, "end": &q.EndTime} {
		if raw := v.Get(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return nil, audit.NewQueryError(q, fmt.Errorf("%s must be RFC3339: %w", name, err))
			}
			*dst = &t
		}
	}
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		if raw := v.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, audit.NewQueryError(q, fmt.Errorf("%s must be an integer", name))
			}
			*dst = n
		}
	}

	if err := audit.ValidateQuery(q); err != nil {
		return nil, err
	}
	return q, nil
}

type auditPage struct {
	Records []*audit.Record `json:"records"`
	Total   int64           `json:"total"`
}

// GET /v1/audit
func (s *Server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeUnavailable(w, "audit storage")
		return
	}
	q, err := parseAuditQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := s.deps.Audit.Query(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := s.deps.Audit.Count(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []*audit.Record{}
	}
	writeJSON(w, http.StatusOK, auditPage{Records: records, Total: total})
}

type verifyResult struct {
	Valid   bool   `json:"valid"`
	Checked int    `json:"checked"`
	Error   string `json:"error,omitempty"`
}

// handleVerifyAudit checks the hash chain of the selected records, oldest
// first. Filters other than the time range break the chain and are
// rejected.
//
// GET /v1/audit/verify
func (s *Server) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeUnavailable(w, "audit storage")
		return
	}
	q, err := parseAuditQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if q.TransactionID != "" || q.EntityID != "" || q.Outcome != "" || q.RuleID != "" || q.PolicyID != "" {
		writeBadRequest(w, CodeInvalidValue, "chain verification accepts only start, end, limit and offset")
		return
	}
	q.SortOrder = audit.SortAsc
	if q.Limit == 0 {
		q.Limit = audit.MaxLimit
	}

	records, err := s.deps.Audit.Query(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	res := verifyResult{Valid: true, Checked: len(records)}
	if err := audit.VerifyChain(records); err != nil {
		res.Valid = false
		res.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, res)
}
