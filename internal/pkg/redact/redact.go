// redact маскирует чувствительные значения перед записью в лог.
package redact

import "strings"

// Email оставляет первые два символа локальной части и домен.
func Email(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***"
	}

	runes := []rune(local)
	if len(runes) > 2 {
		local = string(runes[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// Identifier маскирует логин: e-mail по правилам Email, username — до первых двух символов.
func Identifier(s string) string {
	if strings.Contains(s, "@") {
		return Email(s)
	}

	runes := []rune(s)
	if len(runes) > 2 {
		return string(runes[:2]) + "***"
	}

	return "***"
}

func Token() string    { return "[REDACTED_TOKEN]" }
func Password() string { return "[REDACTED_PASSWORD]" }
