package textutil

import "strings"

// NormalizeStringMap trims every key and value and drops entries whose key or
// value becomes empty. Returns nil when nothing survives.
func NormalizeStringMap(values map[string]string) map[string]string {
	var result map[string]string
	for key, value := range values {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if result == nil {
			result = make(map[string]string, len(values))
		}
		result[key] = value
	}
	return result
}
