// Package condition evaluates rule and policy conditions against a
// transaction's field map.
//
// Conditions fold strictly left to right with no operator precedence:
//
//	[A, OR B, AND C]  ==  (A OR B) AND C
//
// Every condition in the list is evaluated, so a malformed condition or a
// missing required field is reported no matter where it appears. Unknown
// fields are a non-match unless the caller marks them as required.
//
// Numeric comparisons go through shopspring/decimal. Strings are coerced only
// when they match a plain decimal grammar (no exponents, hex or separators);
// anything else does not compare as a number.
//
// The Deriver adds computed fields, written as expr-lang expressions, before
// conditions are evaluated.
package condition
