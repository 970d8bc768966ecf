// Package security provides input validation and redaction utilities.
package security

import (
	"net/url"
	"regexp"
)

// sensitiveKeyPattern matches map keys that likely contain secrets.
// Values under matching keys are redacted at any depth before an object
// is logged or serialized to a non-internal surface.
var sensitiveKeyPattern = regexp.MustCompile(`(?i)password|secret|token|authorization|cookie|key|credential|jwt|bearer|signature|hash|salt`)

// Redacted is the placeholder written in place of sensitive values.
const Redacted = "[REDACTED]"

// IsSensitiveKey reports whether a key name looks like it holds a secret.
func IsSensitiveKey(key string) bool {
	return sensitiveKeyPattern.MatchString(key)
}

// RedactMap returns a deep copy of m with values under sensitive keys
// replaced. Nested maps and slices are walked; other values are copied
// as-is.
func RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return RedactMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

// RedactURL removes sensitive information from a URL for safe logging.
// It redacts user credentials and query parameters whose names look
// like secrets.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		// If we can't parse it, redact aggressively
		return "[invalid-url]"
	}

	if parsed.User != nil {
		parsed.User = url.User(Redacted)
	}

	if parsed.RawQuery != "" {
		params := parsed.Query()
		redacted := make(url.Values, len(params))
		for key, values := range params {
			if IsSensitiveKey(key) {
				redacted[key] = []string{Redacted}
			} else {
				redacted[key] = values
			}
		}
		parsed.RawQuery = redacted.Encode()
	}

	return parsed.String()
}

// SensitiveSelector reports whether a CSS selector targets what looks like
// a credential field. Text typed into such fields is redacted from logs
// and audit metadata.
var sensitiveSelectorPattern = regexp.MustCompile(`(?i)password|secret|token|passwd|pin\b`)

// IsSensitiveSelector reports whether typing into the selector should be
// treated as entering a secret.
func IsSensitiveSelector(selector string) bool {
	return sensitiveSelectorPattern.MatchString(selector)
}

// TruncateForLog shortens a string for log fields without splitting
// mid-rune.
func TruncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
