package api

import (
	"regexp"
)

// maxPayloadLen caps how much of a webhook payload is preserved for audit.
const maxPayloadLen = 64 * 1024

// phoneRe validates destination numbers: E.164-like, optional leading plus,
// no leading zero, up to 15 digits.
var phoneRe = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// validatePhoneNumber checks that a string is a plausible E.164 number.
// Returns an error message if invalid, empty string if OK.
func validatePhoneNumber(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !phoneRe.MatchString(value) {
		return field + " must be an E.164 phone number"
	}
	return ""
}
