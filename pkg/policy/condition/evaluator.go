package condition

import (
	"strings"

	"monay-hq/authz/pkg/policy/model"
)

// Evaluate folds conditions left to right over fields. An empty list matches.
func Evaluate(conditions []model.Condition, fields map[string]interface{}) (bool, error) {
	return EvaluateRequired(conditions, fields, nil)
}

// EvaluateRequired is Evaluate with a set of fields whose absence is an error.
// A *model.MissingFieldError is returned for the first absent required field.
func EvaluateRequired(conditions []model.Condition, fields map[string]interface{}, required []string) (bool, error) {
	for _, name := range required {
		if _, ok := Lookup(fields, name); !ok {
			return false, &model.MissingFieldError{Field: name}
		}
	}

	result := true
	for i, c := range conditions {
		matched, err := evaluateOne(i, c, fields)
		if err != nil {
			return false, err
		}

		if i == 0 {
			result = matched
			continue
		}
		switch c.LogicOperator {
		case model.LogicOr:
			result = result || matched
		case model.LogicAnd, model.LogicNone:
			result = result && matched
		default:
			return false, &model.ConditionError{Index: i, Field: c.Field, Operator: c.Operator, Reason: "unknown logic operator " + string(c.LogicOperator)}
		}
	}
	return result, nil
}

func evaluateOne(i int, c model.Condition, fields map[string]interface{}) (bool, error) {
	if strings.TrimSpace(c.Field) == "" {
		return false, &model.ConditionError{Index: i, Operator: c.Operator, Reason: "field is required"}
	}
	if i == 0 && c.LogicOperator != model.LogicNone {
		return false, &model.ConditionError{Index: i, Field: c.Field, Operator: c.Operator, Reason: "the first condition cannot have a logic operator"}
	}

	actual, ok := Lookup(fields, c.Field)
	matched, err := compare(c.Operator, actual, c.Value)
	if err != nil {
		return false, &model.ConditionError{Index: i, Field: c.Field, Operator: c.Operator, Reason: err.Error()}
	}
	// Malformed values are reported even when the field is absent.
	return ok && matched, nil
}

// Lookup returns the value of a field. Keys are matched exactly first; a
// dotted name then walks nested maps. Nil values count as absent.
func Lookup(fields map[string]interface{}, name string) (interface{}, bool) {
	if fields == nil {
		return nil, false
	}
	if v, ok := fields[name]; ok {
		return v, v != nil
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}

	var current interface{} = fields
	for _, part := range strings.Split(name, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, current != nil
}
