// Package multisig selects the multisig policies that apply to a transaction
// and combines them into a single signing requirement.
package multisig

import (
	"fmt"
	"sort"

	"monay-hq/authz/pkg/policy/condition"
	"monay-hq/authz/pkg/policy/model"
)

// Requirement is the combined signing contract of every matching policy.
type Requirement struct {
	RequiredSignatures int      `json:"requiredSignatures"`
	TimeDelaySeconds   int      `json:"timeDelaySeconds"`
	ApproverRoles      []string `json:"approverRoles"`

	// PolicyIDs lists the contributing policies, most urgent first.
	PolicyIDs []string `json:"policyIds"`

	// GoverningPolicyID is the most urgent contributing policy.
	GoverningPolicyID string `json:"governingPolicyId,omitempty"`
}

// Empty reports whether no policy contributed.
func (r Requirement) Empty() bool {
	return len(r.PolicyIDs) == 0
}

// MatchError wraps a condition failure of one policy.
type MatchError struct {
	PolicyID string
	Err      error
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("policy %q: %v", e.PolicyID, e.Err)
}

func (e *MatchError) Unwrap() error {
	return e.Err
}

// Order sorts policies by urgency: PolicyPriority ascending (Emergency
// first), then id.
func Order(policies []*model.MultisigPolicy) {
	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority < policies[j].Priority
		}
		return policies[i].ID < policies[j].ID
	})
}

// Match returns the enforced policies that apply to walletID and whose
// conditions match fields, ordered by urgency. Evaluation errors, including
// missing required fields, stop matching and are returned as *MatchError.
func Match(policies []*model.MultisigPolicy, walletID string, fields map[string]interface{}) ([]*model.MultisigPolicy, error) {
	matched := make([]*model.MultisigPolicy, 0, len(policies))
	for _, p := range policies {
		if p == nil || !p.Enforced || !p.AppliesToWallet(walletID) {
			continue
		}
		ok, err := condition.EvaluateRequired(p.Conditions, fields, p.RequiredFields)
		if err != nil {
			return nil, &MatchError{PolicyID: p.ID, Err: err}
		}
		if ok {
			matched = append(matched, p)
		}
	}
	Order(matched)
	return matched, nil
}

// Aggregate combines enforced policies: the maximum signature count, the
// maximum delay, and the union of approver roles minus the union of
// excluded roles. If fewer roles remain than signatures are required, a
// *model.UnsatisfiableError is returned together with the requirement.
func Aggregate(policies []*model.MultisigPolicy) (Requirement, error) {
	enforced := make([]*model.MultisigPolicy, 0, len(policies))
	for _, p := range policies {
		if p != nil && p.Enforced {
			enforced = append(enforced, p)
		}
	}
	if len(enforced) == 0 {
		return Requirement{}, nil
	}
	Order(enforced)

	var req Requirement
	approvers := make(map[string]struct{})
	excluded := make(map[string]struct{})
	for _, p := range enforced {
		r := p.Requirements
		if r.RequiredSignatures > req.RequiredSignatures {
			req.RequiredSignatures = r.RequiredSignatures
		}
		if r.TimeDelaySeconds > req.TimeDelaySeconds {
			req.TimeDelaySeconds = r.TimeDelaySeconds
		}
		for _, role := range r.ApproverRoles {
			approvers[role] = struct{}{}
		}
		for _, role := range r.ExcludedRoles {
			excluded[role] = struct{}{}
		}
		req.PolicyIDs = append(req.PolicyIDs, p.ID)
	}
	req.GoverningPolicyID = enforced[0].ID

	req.ApproverRoles = make([]string, 0, len(approvers))
	for role := range approvers {
		if _, ok := excluded[role]; !ok {
			req.ApproverRoles = append(req.ApproverRoles, role)
		}
	}
	sort.Strings(req.ApproverRoles)

	if len(req.ApproverRoles) < req.RequiredSignatures {
		return req, &model.UnsatisfiableError{
			RequiredSignatures: req.RequiredSignatures,
			ApproverRoles:      req.ApproverRoles,
			PolicyIDs:          req.PolicyIDs,
		}
	}
	return req, nil
}
