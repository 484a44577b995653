// Package redact scrubs sensitive values out of tool argument maps before
// they reach a log line or an audit entry.
package redact

import "strings"

// sensitiveKeys are matched case-insensitively against a map key; a match
// replaces the corresponding value with Placeholder regardless of type.
var sensitiveKeys = []string{"password", "token", "secret", "key", "auth", "credential"}

// Placeholder replaces the value of any key matched by Map.
const Placeholder = "[REDACTED]"

// Map returns a copy of m with the value of any key matching sensitiveKeys
// replaced by Placeholder, recursing into nested maps and slices. The input
// is never mutated.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = Placeholder
			continue
		}
		out[k] = scrubValue(v)
	}
	return out
}

func scrubValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Map(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = scrubValue(item)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
