// Package resolve reconciles the outcomes of every triggered rule and the
// aggregated multisig requirement into one Decision.
//
// A block from any rule wins under every strategy. Rules whose actions are
// only side effects (notify, setLimit) do not take part in the contest.
package resolve

import (
	"fmt"
	"sort"
	"time"

	"monay-hq/authz/pkg/policy/model"
	"monay-hq/authz/pkg/policy/multisig"
)

// RuleOutcome is what one triggered rule asks for.
type RuleOutcome struct {
	RuleID    string
	RuleName  string
	Priority  model.RulePriority
	Version   int64
	UpdatedAt time.Time

	// Outcome is the strictest gating action of the rule, or empty when the
	// rule has none.
	Outcome model.Outcome

	Reasons []string
	Actions []model.Action
}

// Gating reports whether the rule competes for the outcome.
func (o RuleOutcome) Gating() bool {
	return o.Outcome.Severity() >= 0
}

// NewRuleOutcome derives the outcome and reasons of a triggered rule from
// its actions.
func NewRuleOutcome(r *model.Rule) RuleOutcome {
	out := RuleOutcome{
		RuleID:    r.ID,
		RuleName:  r.Name,
		Priority:  r.Priority,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
		Actions:   r.Actions,
	}

	for _, a := range r.Actions {
		outcome, ok := model.OutcomeForAction(a.Type)
		if !ok {
			continue
		}
		if out.Outcome == "" {
			out.Outcome = outcome
		} else {
			out.Outcome = model.Stricter(out.Outcome, outcome)
		}

		switch p := a.Params.(type) {
		case model.BlockParams:
			if p.Reason != "" {
				out.Reasons = append(out.Reasons, p.Reason)
			}
		case model.FlagParams:
			if p.Reason != "" {
				out.Reasons = append(out.Reasons, p.Reason)
			}
		}
	}

	if len(out.Reasons) == 0 {
		name := r.Name
		if name == "" {
			name = r.ID
		}
		out.Reasons = append(out.Reasons, fmt.Sprintf("rule %q triggered", name))
	}
	return out
}

// Resolve combines rule outcomes, given in rule precedence order, with the
// multisig requirement. It never fails: inconsistent inputs resolve to block.
func Resolve(outcomes []RuleOutcome, req multisig.Requirement, strategy Strategy) model.Decision {
	if !strategy.Valid() {
		strategy = DefaultStrategy
	}

	d := model.Decision{
		Outcome:            model.OutcomeApprove,
		Strategy:           string(strategy),
		TriggeredRuleIDs:   make([]string, 0, len(outcomes)),
		TriggeredPolicyIDs: append([]string{}, req.PolicyIDs...),
		Reasons:            make([]string, 0, len(outcomes)),
	}

	competing := make([]RuleOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		d.TriggeredRuleIDs = append(d.TriggeredRuleIDs, o.RuleID)
		d.Reasons = append(d.Reasons, o.Reasons...)
		for _, a := range o.Actions {
			d.Actions = append(d.Actions, model.RuleAction{RuleID: o.RuleID, Action: a})
		}
		if o.Gating() {
			competing = append(competing, o)
		}
	}

	manualFlag := false
	switch {
	case len(competing) == 0:
		d.Outcome = model.OutcomeApprove
	case anyBlock(competing):
		d.Block("", "")
		return d
	default:
		d.Outcome, manualFlag = pick(competing, strategy)
		if manualFlag {
			d.FailureCode = model.FailureManualResolution
			d.Reasons = append(d.Reasons, model.FailureManualResolution)
		}
	}

	if !req.Empty() {
		d.Reasons = append(d.Reasons, fmt.Sprintf("multisig policy %q requires %d signatures", req.GoverningPolicyID, req.RequiredSignatures))
		if !manualFlag && (d.Outcome == model.OutcomeApprove || d.Outcome == model.OutcomeFlag) {
			d.Outcome = model.OutcomeEscalate
		}
	}

	if d.Outcome == model.OutcomeEscalate {
		applyEscalation(&d, competing, req)
	}
	return d
}

func anyBlock(outcomes []RuleOutcome) bool {
	for _, o := range outcomes {
		if o.Outcome == model.OutcomeBlock {
			return true
		}
	}
	return false
}

func strictest(outcomes []RuleOutcome) model.Outcome {
	result := outcomes[0].Outcome
	for _, o := range outcomes[1:] {
		result = model.Stricter(result, o.Outcome)
	}
	return result
}

// pick applies a strategy to non-empty, block-free outcomes. The bool is
// true when the manual strategy found a disagreement.
func pick(outcomes []RuleOutcome, strategy Strategy) (model.Outcome, bool) {
	switch strategy {
	case StrategyPriority:
		top := outcomes[0].Priority
		for _, o := range outcomes[1:] {
			if o.Priority > top {
				top = o.Priority
			}
		}
		winners := make([]RuleOutcome, 0, len(outcomes))
		for _, o := range outcomes {
			if o.Priority == top {
				winners = append(winners, o)
			}
		}
		return strictest(winners), false

	case StrategyMostRecent:
		sorted := append([]RuleOutcome(nil), outcomes...)
		sort.SliceStable(sorted, func(i, j int) bool { return newer(sorted[i], sorted[j]) })
		winners := []RuleOutcome{sorted[0]}
		for _, o := range sorted[1:] {
			if newer(sorted[0], o) {
				break
			}
			winners = append(winners, o)
		}
		return strictest(winners), false

	case StrategyManual:
		first := outcomes[0].Outcome
		for _, o := range outcomes[1:] {
			if o.Outcome != first {
				return model.OutcomeFlag, true
			}
		}
		return first, false
	}

	return strictest(outcomes), false
}

// newer reports whether a was edited more recently than b.
func newer(a, b RuleOutcome) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.Version > b.Version
}

// applyEscalation fills the signing contract of an escalate decision. The
// approval levels of escalating rules are a floor on the signature count.
func applyEscalation(d *model.Decision, outcomes []RuleOutcome, req multisig.Requirement) {
	signatures := req.RequiredSignatures
	roles := append([]string(nil), req.ApproverRoles...)
	escalationRoles := make(map[string]struct{})

	for _, o := range outcomes {
		for _, a := range o.Actions {
			p, ok := a.Params.(model.EscalateParams)
			if !ok {
				continue
			}
			if p.ApprovalLevels > signatures {
				signatures = p.ApprovalLevels
			}
			for _, r := range p.Roles {
				escalationRoles[r] = struct{}{}
			}
		}
	}

	// Escalation roles only apply when no policy constrains the approver set.
	if req.Empty() {
		for r := range escalationRoles {
			roles = append(roles, r)
		}
		sort.Strings(roles)
	}
	if signatures < 1 {
		signatures = 1
	}

	if len(roles) > 0 && len(roles) < signatures {
		d.Block(model.FailureUnsatisfiableRequirement,
			fmt.Sprintf("%d signatures required but only %d approver roles are eligible", signatures, len(roles)))
		return
	}

	d.RequiredSignatures = signatures
	d.TimeDelaySeconds = req.TimeDelaySeconds
	d.ApproverRoles = roles
}
