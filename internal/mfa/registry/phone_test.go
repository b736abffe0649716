package registry

import (
	"testing"

	"schoolhub/backend/internal/mfa"
)

func TestNormalizePhone(t *testing.T) {
	testCases := []struct {
		name, raw, cc, want string
	}{
		{"already e164", "+919876543210", "91", "+919876543210"},
		{"double zero prefix", "00919876543210", "91", "+919876543210"},
		{"national zero", "09876543210", "91", "+919876543210"},
		{"national zero with plus cc", "09876543210", "+44", "+449876543210"},
		{"separators", "+1 (555) 123-4567", "", "+15551234567"},
		{"dots", "+44.20.7946.0958", "", "+442079460958"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePhone(tc.raw, tc.cc)
			if err != nil {
				t.Fatalf("NormalizePhone(%q): %v", tc.raw, err)
			}
			if got != tc.want {
				t.Errorf("NormalizePhone(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestNormalizePhone_Rejects(t *testing.T) {
	testCases := []struct{ raw, cc string }{
		{"", "91"},
		{"12345", "91"},
		{"5551234567", ""},
		{"+0123456789", ""},
		{"0123456789", ""},
		{"+1555abc4567", ""},
		{"+1234567890123456", ""},
		{"1+5551234567", ""},
	}
	for _, tc := range testCases {
		_, err := NormalizePhone(tc.raw, tc.cc)
		if !mfa.IsCategory(err, mfa.CategoryFormat) {
			t.Errorf("NormalizePhone(%q, %q) err = %v, want format-error", tc.raw, tc.cc, err)
		}
	}
}
