package registry

import (
	"regexp"
	"strings"

	"schoolhub/backend/internal/mfa"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// NormalizePhone turns common local spellings into E.164: separators are dropped, a leading
// "00" becomes "+", and a single national leading "0" is replaced by countryCode. The result
// must match a loose E.164 pattern or a format-error is returned. This is a convenience
// transform, not a phone-number parser.
func NormalizePhone(raw, countryCode string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", mfa.NewError(mfa.CategoryFormat, "phone number contains invalid characters")
		}
	}
	phone := b.String()
	cc := strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	switch {
	case strings.HasPrefix(phone, "00"):
		phone = "+" + phone[2:]
	case strings.HasPrefix(phone, "0") && cc != "":
		phone = "+" + cc + phone[1:]
	}
	if !e164.MatchString(phone) {
		return "", mfa.NewError(mfa.CategoryFormat, "phone number must be in international format")
	}
	return phone, nil
}
