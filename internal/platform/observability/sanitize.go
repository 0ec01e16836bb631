package observability

import (
	"strings"
	"unicode"
)

// clip drops control characters and truncates value to limit runes so request data cannot forge
// log lines.
func clip(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if limit > 0 {
		if runes := []rune(cleaned); len(runes) > limit {
			cleaned = string(runes[:limit])
		}
	}
	return cleaned
}

// SanitizeRoute prepares a path or route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clip(route, 180)
}

func SanitizeMethod(method string) string {
	return clip(strings.ToUpper(method), 10)
}

// SanitizeUserID bounds staff identifiers written to logs.
func SanitizeUserID(uid string) string {
	return clip(uid, 64)
}

// SanitizeTenantID bounds tenant identifiers taken from the URL.
func SanitizeTenantID(tenantID string) string {
	return clip(strings.TrimSpace(tenantID), 64)
}
