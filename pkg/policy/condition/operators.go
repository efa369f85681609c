package condition

import (
	"errors"
	"fmt"
	"strings"

	"monay-hq/authz/pkg/policy/model"
)

var (
	errNotNumeric  = errors.New("value must be numeric")
	errNeedsList   = errors.New("in requires a list value")
	errNeedsPair   = errors.New("between requires a [low, high] pair")
	errBadBounds   = errors.New("between lower bound exceeds upper bound")
	errNeedsScalar = errors.New("value must be a scalar")
)

// compare applies op to actual and expected. Errors describe a malformed
// expected value; an actual value of the wrong shape is simply a non-match.
func compare(op model.Operator, actual, expected interface{}) (bool, error) {
	if expected == nil {
		return false, errors.New("value is required")
	}

	switch op {
	case model.OpEquals:
		if _, isList := model.AsList(expected); isList {
			return false, errNeedsScalar
		}
		return actual != nil && model.ValuesEqual(actual, expected), nil

	case model.OpGreaterThan:
		return compareNumeric(actual, expected, func(c int) bool { return c > 0 })

	case model.OpLessThan:
		return compareNumeric(actual, expected, func(c int) bool { return c < 0 })

	case model.OpContains:
		return evaluateContains(actual, expected)

	case model.OpIn:
		list, ok := model.AsList(expected)
		if !ok {
			return false, errNeedsList
		}
		if actual == nil {
			return false, nil
		}
		for _, item := range list {
			if model.ValuesEqual(actual, item) {
				return true, nil
			}
		}
		return false, nil

	case model.OpBetween:
		return evaluateBetween(actual, expected)

	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func compareNumeric(actual, expected interface{}, accept func(int) bool) (bool, error) {
	want, ok := model.ToDecimal(expected)
	if !ok {
		return false, errNotNumeric
	}
	got, ok := model.ToDecimal(actual)
	if !ok {
		return false, nil
	}
	return accept(got.Cmp(want)), nil
}

// evaluateContains matches substrings of string fields and members of list fields.
func evaluateContains(actual, expected interface{}) (bool, error) {
	if _, isList := model.AsList(expected); isList {
		return false, errNeedsScalar
	}

	switch a := actual.(type) {
	case nil:
		return false, nil
	case string:
		s, ok := expected.(string)
		if !ok {
			s = fmt.Sprint(expected)
		}
		return strings.Contains(a, s), nil
	}

	if list, ok := model.AsList(actual); ok {
		for _, item := range list {
			if model.ValuesEqual(item, expected) {
				return true, nil
			}
		}
	}
	return false, nil
}

// evaluateBetween is inclusive on both bounds.
func evaluateBetween(actual, expected interface{}) (bool, error) {
	bounds, ok := model.AsList(expected)
	if !ok || len(bounds) != 2 {
		return false, errNeedsPair
	}
	low, okLow := model.ToDecimal(bounds[0])
	high, okHigh := model.ToDecimal(bounds[1])
	if !okLow || !okHigh {
		return false, errNotNumeric
	}
	if low.GreaterThan(high) {
		return false, errBadBounds
	}

	got, ok := model.ToDecimal(actual)
	if !ok {
		return false, nil
	}
	return got.GreaterThanOrEqual(low) && got.LessThanOrEqual(high), nil
}
