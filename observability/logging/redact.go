package logging

import (
	"log/slog"
	"sort"
	"strings"
	"unicode"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"escrow":    {},
	"operation": {},
	"from":      {},
	"to":        {},
	"actor":     {},
	"version":   {},
	"carrier":   {},
}

// sensitiveKeys are masked by the log handler regardless of call site.
var sensitiveKeys = map[string]struct{}{
	"pin":         {},
	"release_pin": {},
	"releasepin":  {},
	"phone":       {},
	"msisdn":      {},
	"recipient":   {},
	"secret":      {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// IsSensitive reports whether values logged under key must never appear in
// cleartext.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}

// RedactionAllowlist returns a sorted copy of the log keys that are allowed to be emitted
// without redaction. Tests use this to ensure sensitive keys remain masked.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty values
// are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskPhone keeps the last four digits of a phone number, e.g. "+27******4567".
func MaskPhone(phone string) string {
	trimmed := strings.TrimSpace(phone)
	digits := 0
	for _, r := range trimmed {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if digits <= 4 {
		return MaskValue(trimmed)
	}
	var b strings.Builder
	seen := 0
	for _, r := range trimmed {
		if !unicode.IsDigit(r) {
			if r == '+' {
				b.WriteRune(r)
			}
			continue
		}
		seen++
		if seen <= 2 && strings.HasPrefix(trimmed, "+") || seen > digits-4 {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('*')
	}
	return b.String()
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted. The original key casing is preserved for readability.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// RedactAttr masks a sensitive attribute. Phone numbers keep their last four
// digits; everything else is replaced by RedactedValue.
func RedactAttr(key, value string) slog.Attr {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "phone", "msisdn", "recipient":
		return slog.String(key, MaskPhone(value))
	default:
		return slog.String(key, MaskValue(value))
	}
}
