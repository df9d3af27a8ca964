package security

import "regexp"

// secretKeyPattern matches argument keys that likely carry secrets.
// Matching is case-insensitive and substring-based, so ApiKey, API_KEY,
// slackToken, and db_password are all caught.
var secretKeyPattern = regexp.MustCompile(`(?i)(password|secret|token|api[-_]?key|credential)`)

// MaskArgs returns a deep copy of args with every value whose key matches
// a secret pattern replaced by RedactPlaceholder. Nested maps and slices
// are walked recursively. The input is never mutated; masked copies are
// what leave process memory for logging and audit.
func MaskArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	masked := make(map[string]any, len(args))
	for k, v := range args {
		if secretKeyPattern.MatchString(k) {
			masked[k] = RedactPlaceholder
			continue
		}
		masked[k] = maskValue(v)
	}
	return masked
}

func maskValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return MaskArgs(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = maskValue(item)
		}
		return out
	default:
		return v
	}
}
