// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "BR"

// NormalizeE164 formats a phone number to E.164. If parsing fails, it returns the trimmed input.
func NormalizeE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	// WhatsApp delivers wa_id without the leading plus.
	candidate := trimmed
	if !strings.HasPrefix(candidate, "+") && len(candidate) > 11 {
		candidate = "+" + candidate
	}

	number, err := phonenumbers.Parse(candidate, defaultRegion)
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// WhatsAppID formats a number the way the Cloud API expects recipients: E.164 digits without '+'.
func WhatsAppID(input string) string {
	return strings.TrimPrefix(NormalizeE164(input), "+")
}
