// Package condition implements the small comparison language used by
// approval rules. A condition is a single expression over one argument
// field, e.g. `amount > 1000` or `environment == "production"`.
//
// The grammar is fixed: string equality/inequality against a quoted
// literal, and the four numeric comparisons against a bare number.
// Anything else is treated as satisfied, so a broken rule can only ever
// make approval stricter, never bypass it.
package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Expression patterns, checked in precedence order. Equality forms are
// matched before numeric ones so `env == "1"` is a string comparison.
var (
	eqPattern  = regexp.MustCompile(`^\s*([\w.]+)\s*==\s*"((?:[^"\\]|\\.)*)"\s*$`)
	neqPattern = regexp.MustCompile(`^\s*([\w.]+)\s*!=\s*"((?:[^"\\]|\\.)*)"\s*$`)
	numPattern = regexp.MustCompile(`^\s*([\w.]+)\s*(>=|<=|>|<)\s*(-?\d+(?:\.\d+)?)\s*$`)
)

// Evaluate reports whether the condition is satisfied by args.
//
// Unparseable conditions and nil args evaluate to true: an approval rule
// that cannot be understood must still gate the call. Callers that want
// to surface bad rules should check Supported and log a warning.
func Evaluate(cond string, args map[string]any) bool {
	if args == nil {
		return true
	}

	if m := eqPattern.FindStringSubmatch(cond); m != nil {
		return stringField(args, m[1]) == unescape(m[2])
	}
	if m := neqPattern.FindStringSubmatch(cond); m != nil {
		return stringField(args, m[1]) != unescape(m[2])
	}
	if m := numPattern.FindStringSubmatch(cond); m != nil {
		val, ok := numericField(args, m[1])
		if !ok {
			// Non-numeric field: the comparison is not satisfied.
			return false
		}
		threshold, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			return true
		}
		switch m[2] {
		case ">":
			return val > threshold
		case ">=":
			return val >= threshold
		case "<":
			return val < threshold
		case "<=":
			return val <= threshold
		}
	}

	// Unknown grammar: fail open toward requiring approval.
	return true
}

// Supported reports whether cond matches one of the known expression
// forms. Evaluate still works on unsupported conditions (returning true);
// this exists so callers can warn about rules that will always gate.
func Supported(cond string) bool {
	return eqPattern.MatchString(cond) ||
		neqPattern.MatchString(cond) ||
		numPattern.MatchString(cond)
}

// stringField returns the canonical string form of a field, or "" when
// the field is absent.
func stringField(args map[string]any, name string) string {
	v, ok := args[name]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// numericField coerces a field to float64. JSON decoding yields float64
// for all numbers, but registrations from Go code may pass native ints,
// and some providers put numbers in strings.
func numericField(args map[string]any, name string) (float64, bool) {
	v, ok := args[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
