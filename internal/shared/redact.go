package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretPatterns matches common secret-bearing patterns in log/event/error strings.
var secretPatterns = []*regexp.Regexp{
	// API keys (generic: long hex/base64 strings preceded by key-like prefixes)
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|bearer)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`),
	// Bearer tokens in Authorization headers
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
	// Gemini/Google API keys (AIza pattern)
	regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`),
	// Green API instance tokens embedded in request URLs (waInstance<id>/<Method>/<token>)
	regexp.MustCompile(`(waInstance\d+/[A-Za-z]+/)([0-9a-f]{20,})`),
}

// phonePattern matches international phone numbers (10-15 digits, optional +).
var phonePattern = regexp.MustCompile(`\+?\d{10,15}`)

// Redact replaces secret-bearing patterns in the input string with [REDACTED].
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			// For patterns with a prefix group, keep the prefix and redact the value.
			submatch := pat.FindStringSubmatch(match)
			if len(submatch) >= 3 {
				return submatch[1] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return result
}

// MaskPhone hides the middle digits of a phone number so logs stay
// correlatable without carrying the full value: "972501234567" -> "9725***4567".
func MaskPhone(phone string) string {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 8 {
		return "***"
	}
	masked := digits[:4] + "***" + digits[len(digits)-4:]
	if strings.HasPrefix(phone, "+") {
		return "+" + masked
	}
	return masked
}

// MaskPhones applies MaskPhone to every phone-shaped token in a free-form string.
func MaskPhones(input string) string {
	if input == "" {
		return input
	}
	return phonePattern.ReplaceAllStringFunc(input, MaskPhone)
}

// RedactEnvValue checks if a key name looks secret and returns redacted value if so.
func RedactEnvValue(key, value string) string {
	keyLower := strings.ToLower(key)
	sensitiveKeys := []string{"api_key", "apikey", "secret", "token", "password", "credential"}
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return redactedPlaceholder
		}
	}
	return value
}
