package httpserver

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating one value.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

var identifierRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateIdentifier checks a tenant or user identifier: these travel as
// bus routing parameters and cache keys, so the character set is strict.
func ValidateIdentifier(field, v string) ValidationResult {
	if v == "" {
		return ValidationResult{Valid: false, Errors: []ValidationError{
			{Field: field, Code: "REQUIRED", Message: field + " is required"},
		}}
	}
	if len(v) > 100 {
		return ValidationResult{Valid: false, Errors: []ValidationError{
			{Field: field, Code: "TOO_LONG", Message: field + " is too long (max 100 characters)"},
		}}
	}
	if !identifierRe.MatchString(v) {
		return ValidationResult{Valid: false, Errors: []ValidationError{
			{Field: field, Code: "INVALID_FORMAT", Message: field + " contains invalid characters"},
		}}
	}
	return ValidationResult{Valid: true}
}

// SanitizeString strips control bytes and bounds free-form string input.
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	input = strings.TrimSpace(input)
	if len(input) > 1000 {
		input = input[:1000]
	}
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}
	return input
}
