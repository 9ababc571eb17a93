package log

import (
	"strings"
)

var sensitiveKeywords = []string{
	"password", "passwd",
	"token",
	"secret", "authorization",
}

// SanitizeField masks the value when the key names a credential or a lock
// token. Other values pass through unchanged.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return maskValue(value)
		}
	}
	return value
}

// maskValue keeps the first 4 and last 4 characters of long values.
func maskValue(value string) string {
	if len(value) <= 8 {
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}
