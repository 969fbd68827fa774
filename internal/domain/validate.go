package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrInvalidPhone is returned when a phone number has fewer than 10 or
	// more than 15 digits after stripping formatting.
	ErrInvalidPhone = errors.New("domain: phone must contain 10-15 digits")

	// ErrInvalidVIN is returned when a VIN is not exactly 17 characters of
	// the allowed alphabet (letters I, O and Q are excluded).
	ErrInvalidVIN = errors.New("domain: VIN must be 17 alphanumeric characters excluding I, O, Q")
)

// NormalizePhone converts a free-form phone number to E.164. Ten-digit
// numbers are assumed to be NANP and get a +1 prefix. Normalization is
// idempotent: NormalizePhone(NormalizePhone(x)) == NormalizePhone(x).
func NormalizePhone(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) < 10 || len(d) > 15 {
		return "", fmt.Errorf("%w: got %d digits", ErrInvalidPhone, len(d))
	}
	if len(d) == 10 {
		return "+1" + d, nil
	}
	return "+" + d, nil
}

// MaskPhone obscures all but the last four digits of an E.164 number for
// production logs.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// NormalizeVIN validates and uppercases a VIN. The letters I, O and Q are
// never part of a valid VIN.
func NormalizeVIN(raw string) (string, error) {
	vin := strings.ToUpper(strings.TrimSpace(raw))
	if len(vin) != 17 {
		return "", fmt.Errorf("%w: got %d characters", ErrInvalidVIN, len(vin))
	}
	for _, r := range vin {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'A' && r <= 'Z':
			if r == 'I' || r == 'O' || r == 'Q' {
				return "", fmt.Errorf("%w: contains %q", ErrInvalidVIN, r)
			}
		default:
			return "", fmt.Errorf("%w: contains %q", ErrInvalidVIN, r)
		}
	}
	return vin, nil
}

// NormalizeEmail lowercases and trims an email address. Empty input stays
// empty (email is optional on customer records).
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", nil
	}
	if len(email) > 255 {
		return "", errors.New("domain: email exceeds 255 characters")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || !strings.Contains(email[at:], ".") {
		return "", fmt.Errorf("domain: %q is not a valid email address", raw)
	}
	return email, nil
}
