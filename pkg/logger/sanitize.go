package logger

import (
	"net/url"
	"strings"
)

// sensitiveParams are query parameters that must never reach the request log.
var sensitiveParams = []string{
	"token", "password", "otp", "code", "secret", "jwt",
}

// SanitizeQueryString reports whether a raw query string carries sensitive
// parameters and should be redacted from the request log.
func SanitizeQueryString(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		// Unparseable query strings are redacted wholesale.
		return true
	}

	for key := range values {
		lower := strings.ToLower(key)
		for _, sensitive := range sensitiveParams {
			if strings.Contains(lower, sensitive) {
				return true
			}
		}
	}

	return false
}

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username := parts[0]
	domain := parts[1]

	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}
