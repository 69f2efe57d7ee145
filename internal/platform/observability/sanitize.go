package observability

import (
	"strings"
	"unicode"
)

// sanitizeString strips control characters (keeping common whitespace) and
// truncates so attacker-controlled values cannot inject log structure.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, value)
	if runes := []rune(value); len(runes) > limit {
		value = string(runes[:limit])
	}
	return value
}

// SanitizeRoute cleans a route pattern before it is logged or attached to a span.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod cleans an HTTP method before it is logged.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}
