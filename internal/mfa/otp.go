package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// CodeLength is the number of digits in every verification code (SMS OTP and TOTP).
const CodeLength = 6

// GenerateOTP returns a 6-digit numeric OTP string (e.g. "123456") for SMS delivery.
func GenerateOTP() (string, error) {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := make([]byte, CodeLength)
	for i := 0; i < CodeLength; i++ {
		s[i] = '0' + (b[i] % 10)
	}
	return string(s), nil
}

// HashOTP returns a SHA-256 hash of the OTP string, hex-encoded. Only the hash is persisted.
func HashOTP(otp string) string {
	h := sha256.Sum256([]byte(otp))
	return hex.EncodeToString(h[:])
}

// OTPEqual performs constant-time comparison of the provided OTP's hash with the stored hash.
func OTPEqual(providedOTP, storedHash string) bool {
	providedHash := HashOTP(providedOTP)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// SanitizeCode strips every non-digit character and truncates the result to CodeLength.
// SanitizeCode(SanitizeCode(x)) == SanitizeCode(x) for every x.
func SanitizeCode(input string) string {
	var b strings.Builder
	b.Grow(CodeLength)
	for _, r := range input {
		if r < '0' || r > '9' {
			continue
		}
		b.WriteRune(r)
		if b.Len() == CodeLength {
			break
		}
	}
	return b.String()
}

// ValidateCode reports a format-error unless code is exactly CodeLength ASCII digits.
// Callers sanitize first; the check is repeated here so raw input is never sent to a provider.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return &Error{Category: CategoryFormat, Raw: "code must be exactly 6 digits"}
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return &Error{Category: CategoryFormat, Raw: "code must contain digits only"}
		}
	}
	return nil
}
