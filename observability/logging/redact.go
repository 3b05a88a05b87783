package logging

import "strings"

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"x-api-key":     {},
	"x-api-secret":  {},
	"set-cookie":    {},
}

// Redact masks the value when the key is known to carry credentials. Request
// logging in the query API runs every logged header through this.
func Redact(key, value string) string {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if _, ok := sensitiveKeys[normalized]; ok {
		return RedactedValue
	}
	return value
}
