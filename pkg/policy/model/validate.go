package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidateRule checks a rule before it may enter a rule store. All problems
// are collected into a single *ValidationError with per-index field paths.
func ValidateRule(r *Rule) error {
	if r == nil {
		return &ValidationError{Kind: "rule", Errors: []FieldError{{Field: "rule", Index: -1, Message: "rule cannot be nil"}}}
	}

	errs := structErrors(r)
	if r.Category != "" && !r.Category.Valid() {
		errs = append(errs, FieldError{Field: "category", Index: -1, Message: fmt.Sprintf("unknown category %q", r.Category)})
	}

	if len(r.Conditions) == 0 {
		errs = append(errs, FieldError{Field: "conditions", Index: -1, Message: "at least one condition is required"})
	}
	errs = append(errs, ValidateConditions(r.Conditions)...)

	if len(r.Actions) == 0 {
		errs = append(errs, FieldError{Field: "actions", Index: -1, Message: "at least one action is required"})
	}
	for i, a := range r.Actions {
		errs = append(errs, validateAction(i, a)...)
	}
	errs = append(errs, validateRequiredFields(r.RequiredFields)...)

	if len(errs) > 0 {
		return &ValidationError{Kind: "rule", ID: r.ID, Errors: errs}
	}
	return nil
}

// ValidatePolicy checks a multisig policy, including that its own approver
// roles can satisfy its signature count.
func ValidatePolicy(p *MultisigPolicy) error {
	if p == nil {
		return &ValidationError{Kind: "policy", Errors: []FieldError{{Field: "policy", Index: -1, Message: "policy cannot be nil"}}}
	}

	errs := structErrors(p)
	if p.Type != "" && !p.Type.Valid() {
		errs = append(errs, FieldError{Field: "type", Index: -1, Message: fmt.Sprintf("unknown policy type %q", p.Type)})
	}
	if !p.Priority.Valid() {
		errs = append(errs, FieldError{Field: "priority", Index: -1, Message: "priority must be between 0 (emergency) and 4 (low)"})
	}
	errs = append(errs, ValidateConditions(p.Conditions)...)
	errs = append(errs, validateRequiredFields(p.RequiredFields)...)

	req := p.Requirements
	if len(req.ApproverRoles) == 0 {
		errs = append(errs, FieldError{Field: "requirements.approverRoles", Index: -1, Message: "at least one approver role is required"})
	}
	for i, role := range req.ApproverRoles {
		if strings.TrimSpace(role) == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("requirements.approverRoles[%d]", i), Index: i, Message: "role cannot be empty"})
		}
	}
	if roles := req.EffectiveRoles(); len(req.ApproverRoles) > 0 && req.RequiredSignatures > len(roles) {
		errs = append(errs, FieldError{
			Field:   "requirements.requiredSignatures",
			Index:   -1,
			Message: fmt.Sprintf("%d signatures required but only %d distinct approver roles are configured", req.RequiredSignatures, len(roles)),
		})
	}
	for i, w := range p.WalletIDs {
		if strings.TrimSpace(w) == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("walletIds[%d]", i), Index: i, Message: "wallet id cannot be empty"})
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Kind: "policy", ID: p.ID, Errors: errs}
	}
	return nil
}

// ValidateConditions checks the shape of every condition in a list.
func ValidateConditions(conditions []Condition) []FieldError {
	var errs []FieldError
	for i, c := range conditions {
		if reason := CheckCondition(i, c); reason != "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("conditions[%d]", i), Index: i, Message: reason})
		}
	}
	return errs
}

// CheckCondition returns a non-empty reason when the condition at index i
// cannot be evaluated.
func CheckCondition(i int, c Condition) string {
	if strings.TrimSpace(c.Field) == "" {
		return "field is required"
	}
	if !c.Operator.Valid() {
		return fmt.Sprintf("unknown operator %q", c.Operator)
	}
	switch {
	case i == 0 && c.LogicOperator != LogicNone:
		return "the first condition cannot have a logic operator"
	case i > 0 && c.LogicOperator != LogicNone && c.LogicOperator != LogicAnd && c.LogicOperator != LogicOr:
		return fmt.Sprintf("unknown logic operator %q", c.LogicOperator)
	}
	if c.Value == nil {
		return "value is required"
	}

	switch c.Operator {
	case OpBetween:
		list, ok := AsList(c.Value)
		if !ok || len(list) != 2 {
			return "between requires a [low, high] pair"
		}
		low, okLow := ToDecimal(list[0])
		high, okHigh := ToDecimal(list[1])
		if !okLow || !okHigh {
			return "between bounds must be numeric"
		}
		if low.GreaterThan(high) {
			return "between lower bound exceeds upper bound"
		}
	case OpIn:
		list, ok := AsList(c.Value)
		if !ok {
			return "in requires a list value"
		}
		if len(list) == 0 {
			return "in requires a non-empty list"
		}
	case OpGreaterThan, OpLessThan:
		if _, ok := ToDecimal(c.Value); !ok {
			return fmt.Sprintf("%s requires a numeric value", c.Operator)
		}
	case OpContains, OpEquals:
		if _, isList := AsList(c.Value); isList {
			return fmt.Sprintf("%s requires a scalar value", c.Operator)
		}
	}
	return ""
}

// ValidateAction checks a single action outside of a rule.
func ValidateAction(a Action) error {
	if errs := validateAction(0, a); len(errs) > 0 {
		return &ActionError{Type: a.Type, Reason: errs[0].Message}
	}
	return nil
}

func validateAction(i int, a Action) []FieldError {
	field := fmt.Sprintf("actions[%d]", i)
	fail := func(msg string) []FieldError {
		return []FieldError{{Field: field, Index: i, Message: msg}}
	}

	if !a.Type.Valid() {
		return fail(fmt.Sprintf("unknown action type %q", a.Type))
	}
	if a.Params == nil {
		switch a.Type {
		case ActionBlock, ActionFlag, ActionApprove:
			return nil
		}
		return fail(fmt.Sprintf("%s requires parameters", a.Type))
	}
	if a.Params.ActionType() != a.Type {
		return fail(fmt.Sprintf("parameters of type %s do not match action type %s", a.Params.ActionType(), a.Type))
	}

	switch p := a.Params.(type) {
	case EscalateParams:
		if p.ApprovalLevels < 1 {
			return fail("escalate requires approvalLevels >= 1")
		}
	case NotifyParams:
		if len(p.Recipients) == 0 {
			return fail("notify requires at least one recipient")
		}
		for _, r := range p.Recipients {
			if strings.TrimSpace(r) == "" {
				return fail("notify recipients cannot be empty")
			}
		}
	case SetLimitParams:
		if !p.Scope.Valid() {
			return fail(fmt.Sprintf("setLimit has unknown scope %q", p.Scope))
		}
		if p.Amount.IsNegative() {
			return fail("setLimit amount cannot be negative")
		}
		if p.Location != "" {
			if _, err := time.LoadLocation(p.Location); err != nil {
				return fail(fmt.Sprintf("setLimit location %q is invalid", p.Location))
			}
		}
	}
	return nil
}

func validateRequiredFields(fields []string) []FieldError {
	var errs []FieldError
	for i, f := range fields {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("requiredFields[%d]", i), Index: i, Message: "field name cannot be empty"})
		}
	}
	return errs
}

// structErrors runs tag-based validation and converts the result to FieldErrors.
func structErrors(v interface{}) []FieldError {
	err := structValidator.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "", Index: -1, Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if idx := strings.Index(ns, "."); idx >= 0 {
			ns = ns[idx+1:]
		}
		out = append(out, FieldError{Field: ns, Index: -1, Message: describeTag(fe)})
	}
	return out
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}
