package store

import (
	"monay-hq/authz/pkg/policy/model"
)

func testRule(id string, priority model.RulePriority) *model.Rule {
	return &model.Rule{
		ID:       id,
		Name:     "rule " + id,
		Category: model.CategoryRiskManagement,
		Priority: priority,
		Active:   true,
		Conditions: []model.Condition{
			{Field: "amount", Operator: model.OpGreaterThan, Value: 1000},
		},
		Actions: []model.Action{
			model.NewAction(model.FlagParams{Reason: "large amount"}),
		},
	}
}

func testPolicy(id string, priority model.PolicyPriority) *model.MultisigPolicy {
	return &model.MultisigPolicy{
		ID:       id,
		Name:     "policy " + id,
		Type:     model.PolicyTypeTransactionLimit,
		Priority: priority,
		Conditions: []model.Condition{
			{Field: "amount", Operator: model.OpGreaterThan, Value: 50000},
		},
		Requirements: model.SignatureRequirements{
			RequiredSignatures: 2,
			ApproverRoles:      []string{"cfo", "treasurer", "controller"},
		},
		Enforced: true,
	}
}
