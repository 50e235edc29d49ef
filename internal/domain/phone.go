package domain

import (
	"fmt"
	"strings"
)

const (
	minPhoneDigits = 10
	maxPhoneDigits = 15
)

// NormalizePhoneNumber strips formatting characters and validates the E.164 shape.
func NormalizePhoneNumber(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r == '+' || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	if cleaned == "" {
		return "", fmt.Errorf("%w: phone number is required", ErrValidation)
	}
	if !strings.HasPrefix(cleaned, "+") {
		return "", fmt.Errorf("%w: phone number %q must start with country code (+)", ErrValidation, raw)
	}

	digits := cleaned[1:]
	if strings.Contains(digits, "+") {
		return "", fmt.Errorf("%w: phone number %q has misplaced +", ErrValidation, raw)
	}
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", fmt.Errorf("%w: phone number %q must have %d-%d digits", ErrValidation, raw, minPhoneDigits, maxPhoneDigits)
	}

	return cleaned, nil
}
