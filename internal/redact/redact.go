// Package redact provides utilities for redacting credentials from strings
// before they are logged. Queue connection strings, SAS tokens, database URLs
// and bind passwords can all surface in error messages from the SDKs the
// agent uses.
package redact

import (
	"regexp"
)

// Constants for redaction placeholders
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Rules are applied in order; earlier rules keep the attribute name so later
// ones do not match the same secret twice.
var rules = []rule{
	// Storage account keys and SAS values inside connection strings
	{
		regexp.MustCompile(`(?i)\b(AccountKey|SharedAccessKey|SharedAccessSignature)=[^;\s]+`),
		"${1}=" + RedactedKeyPlaceholder,
	},
	// SAS signature in a queue URL
	{
		regexp.MustCompile(`(?i)([?&]sig=)[^&\s]+`),
		"${1}" + RedactedKeyPlaceholder,
	},
	// Database connection strings
	{
		regexp.MustCompile(`(?i)(postgres|postgresql|ldap|ldaps)://[^@\s]+@`),
		RedactedCredentialPlaceholder,
	},
	// Credentials and tokens
	{
		regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s;]{3,}`),
		RedactedCredentialPlaceholder,
	},
	{
		regexp.MustCompile(`(?i)(api[_-]?key|token|secret|client[_-]?secret)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`),
		RedactedKeyPlaceholder,
	},
	// Entra ID access tokens
	{
		regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		"[REDACTED_JWT]",
	},
}

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}

	return result
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}
