package mfa

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassify_Sentinels(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Category
	}{
		{"invalid code", ErrInvalidCode, CategoryInvalidCode},
		{"wrapped invalid code", fmt.Errorf("verify: %w", ErrInvalidCode), CategoryInvalidCode},
		{"expired", ErrExpiredChallenge, CategoryExpiredChallenge},
		{"factor missing", ErrFactorNotFound, CategoryNotFound},
		{"challenge missing", ErrChallengeNotFound, CategoryNotFound},
		{"session gone", ErrSessionNotActive, CategoryNotFound},
		{"sms not configured", ErrSMSNotConfigured, CategoryProviderMisconfigured},
		{"already enrolled", ErrAlreadyEnrolled, CategoryAlreadyEnrolled},
		{"base session enrolling", ErrElevatedSessionRequired, CategoryElevationRequired},
		{"deadline", context.DeadlineExceeded, CategoryTransient},
		{"unknown", errors.New("connection reset by peer"), CategoryTransient},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			if got.Category != tc.want {
				t.Errorf("Category = %q, want %q", got.Category, tc.want)
			}
			if !errors.Is(got, tc.err) {
				t.Error("classified error should wrap the original")
			}
		})
	}
}

func TestClassify_RateLimitStructured(t *testing.T) {
	got := Classify(&RateLimitError{Wait: 29500 * time.Millisecond})
	if got.Category != CategoryRateLimited {
		t.Fatalf("Category = %q, want rate-limited", got.Category)
	}
	if got.WaitSeconds != 30 {
		t.Errorf("WaitSeconds = %d, want 30", got.WaitSeconds)
	}
}

func TestClassify_RateLimitFromText(t *testing.T) {
	testCases := []struct {
		msg  string
		wait int
	}{
		{"For security purposes, you can only request this after 42 seconds.", 42},
		{"sms rate limit exceeded, retry in 7 seconds", 7},
		{"too many requests", 0},
		{"Too many attempts, wait 1 second", 1},
	}
	for _, tc := range testCases {
		got := Classify(errors.New(tc.msg))
		if got.Category != CategoryRateLimited {
			t.Errorf("%q: Category = %q, want rate-limited", tc.msg, got.Category)
		}
		if got.WaitSeconds != tc.wait {
			t.Errorf("%q: WaitSeconds = %d, want %d", tc.msg, got.WaitSeconds, tc.wait)
		}
	}
}

func TestClassify_TextFallbacks(t *testing.T) {
	testCases := []struct {
		msg  string
		want Category
	}{
		{"SMS provider is not configured", CategoryProviderMisconfigured},
		{"Challenge expired", CategoryExpiredChallenge},
		{"Invalid TOTP code entered", CategoryInvalidCode},
		{"Factor not found", CategoryNotFound},
	}
	for _, tc := range testCases {
		if got := Classify(errors.New(tc.msg)).Category; got != tc.want {
			t.Errorf("%q: Category = %q, want %q", tc.msg, got, tc.want)
		}
	}
}

func TestClassify_PassesThroughCategorized(t *testing.T) {
	in := NewError(CategoryNoVerifiedFactors, "setup required")
	if got := Classify(fmt.Errorf("start: %w", in)); got != in {
		t.Errorf("Classify should return the wrapped *Error unchanged")
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestError_UserMessageNeverLeaksRaw(t *testing.T) {
	e := &Error{Category: CategoryTransient, Raw: "dial tcp 10.0.0.5:5432: secret-host"}
	if msg := e.UserMessage(); msg == "" || msg == e.Raw {
		t.Errorf("UserMessage = %q, want category-derived text", msg)
	}
	rl := RateLimited(30 * time.Second)
	if rl.WaitSeconds != 30 {
		t.Errorf("WaitSeconds = %d, want 30", rl.WaitSeconds)
	}
	if rl.UserMessage() != "Too many attempts. Please wait 30 seconds before trying again." {
		t.Errorf("UserMessage = %q", rl.UserMessage())
	}
}

func TestError_Retryable(t *testing.T) {
	if !NewError(CategoryInvalidCode, "").Retryable() {
		t.Error("invalid-code should be retryable")
	}
	if NewError(CategoryNoVerifiedFactors, "").Retryable() {
		t.Error("no-verified-factors should not be retryable")
	}
	if NewError(CategoryProviderMisconfigured, "").Retryable() {
		t.Error("provider-misconfigured should not be retryable")
	}
}

func TestIsCategory(t *testing.T) {
	if !IsCategory(ErrExpiredChallenge, CategoryExpiredChallenge) {
		t.Error("IsCategory should classify sentinel")
	}
	if IsCategory(nil, CategoryExpiredChallenge) {
		t.Error("IsCategory(nil) should be false")
	}
}
