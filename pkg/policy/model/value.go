package model

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"regexp"

	"github.com/shopspring/decimal"
)

// strictDecimal is the only textual number format accepted for coercion.
// Exponents, hex, thousands separators and surrounding whitespace are rejected.
var strictDecimal = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

// ToDecimal coerces a context or condition value to a decimal.
// Strings must match the strict decimal grammar. The boolean is false when
// the value is not numeric.
func ToDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case *decimal.Decimal:
		if n == nil {
			return decimal.Zero, false
		}
		return *n, true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int8:
		return decimal.NewFromInt(int64(n)), true
	case int16:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return fromUint(uint64(n)), true
	case uint8:
		return fromUint(uint64(n)), true
	case uint16:
		return fromUint(uint64(n)), true
	case uint32:
		return fromUint(uint64(n)), true
	case uint64:
		return fromUint(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case json.Number:
		return parseStrict(string(n))
	case string:
		return parseStrict(n)
	}
	return decimal.Zero, false
}

func fromUint(n uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0)
}

func parseStrict(s string) (decimal.Decimal, bool) {
	if !strictDecimal.MatchString(s) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// IsNumeric reports whether v is a Go numeric type or a decimal, without
// considering strings.
func IsNumeric(v interface{}) bool {
	switch v.(type) {
	case decimal.Decimal, *decimal.Decimal, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// AsList converts slices and arrays of any element type to []interface{}.
// Strings are not lists.
func AsList(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	if l, ok := v.([]interface{}); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// ValuesEqual compares two scalars. Numeric values compare by decimal value
// when both sides are numeric (strings are coerced strictly); anything else
// compares by its string form.
func ValuesEqual(actual, expected interface{}) bool {
	if IsNumeric(actual) || IsNumeric(expected) {
		a, okA := ToDecimal(actual)
		e, okE := ToDecimal(expected)
		if okA && okE {
			return a.Equal(e)
		}
		if IsNumeric(actual) && IsNumeric(expected) {
			return false
		}
	}
	switch a := actual.(type) {
	case bool:
		e, ok := expected.(bool)
		return ok && a == e
	case string:
		e, ok := expected.(string)
		return ok && a == e
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

// ParseAmount parses a money amount using the strict decimal grammar.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, ok := parseStrict(s)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}
