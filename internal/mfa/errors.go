package mfa

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Category classifies an MFA failure. User-facing messaging is derived from the category only.
type Category string

const (
	CategoryInvalidCode             Category = "invalid-code"
	CategoryExpiredChallenge        Category = "expired-challenge"
	CategoryRateLimited             Category = "rate-limited"
	CategoryProviderMisconfigured   Category = "provider-misconfigured"
	CategoryNotFound                Category = "not-found"
	CategoryNoVerifiedFactors       Category = "no-verified-factors"
	CategoryFormat                  Category = "format-error"
	CategoryTransient               Category = "transient"
	CategoryAlreadyEnrolled         Category = "already-enrolled"
	CategoryVerificationUnconfirmed Category = "verification-unconfirmed"
	CategoryCancelled               Category = "cancelled"
	CategoryElevationRequired       Category = "elevation-required"
)

// Sentinel errors returned by an identity provider. Classify maps them to categories.
var (
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrExpiredChallenge   = errors.New("challenge has expired")
	ErrFactorNotFound     = errors.New("factor not found")
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrSMSNotConfigured   = errors.New("sms provider not configured")
	ErrAlreadyEnrolled    = errors.New("factor already enrolled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionNotActive   = errors.New("session not active")

	// ErrElevatedSessionRequired is returned when a base session tries to add a factor to an
	// account that already has a verified one.
	ErrElevatedSessionRequired = errors.New("elevated session required")
)

// RateLimitError is returned by a provider when a request must wait before being retried.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("For security purposes, you can only request this after %d seconds.", waitSeconds(e.Wait))
}

// Error is a categorized MFA failure. Raw carries diagnostics and is never shown to users.
type Error struct {
	Category    Category
	WaitSeconds int
	Raw         string
	Err         error
}

func (e *Error) Error() string {
	if e.Raw != "" {
		return string(e.Category) + ": " + e.Raw
	}
	if e.Err != nil {
		return string(e.Category) + ": " + e.Err.Error()
	}
	return string(e.Category)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same elevation attempt can continue after this error.
func (e *Error) Retryable() bool {
	switch e.Category {
	case CategoryInvalidCode, CategoryExpiredChallenge, CategoryRateLimited, CategoryTransient, CategoryFormat:
		return true
	}
	return false
}

// UserMessage returns the remediation text shown to users for the error's category.
func (e *Error) UserMessage() string {
	switch e.Category {
	case CategoryInvalidCode:
		return "That code is not correct. Check your authenticator or SMS and try again."
	case CategoryExpiredChallenge:
		return "This code has expired. Request a new code to continue."
	case CategoryRateLimited:
		if e.WaitSeconds > 0 {
			return fmt.Sprintf("Too many attempts. Please wait %d seconds before trying again.", e.WaitSeconds)
		}
		return "Too many attempts. Please wait before trying again."
	case CategoryProviderMisconfigured:
		return "Verification by SMS is not available right now. Contact your school administrator."
	case CategoryNotFound:
		return "This verification method no longer exists. Start again."
	case CategoryNoVerifiedFactors:
		return "Set up two-step verification before continuing."
	case CategoryFormat:
		return "Enter the 6-digit code."
	case CategoryAlreadyEnrolled:
		return "An authenticator app is already set up for this account."
	case CategoryVerificationUnconfirmed:
		return "We could not confirm your verification. Please try again."
	case CategoryCancelled:
		return "Verification was cancelled."
	case CategoryElevationRequired:
		return "Verify with one of your existing methods before adding another."
	default:
		return "Something went wrong. Please try again."
	}
}

// NewError returns an *Error for category with diagnostic text raw.
func NewError(category Category, raw string) *Error {
	return &Error{Category: category, Raw: raw}
}

// RateLimited returns a rate-limited *Error carrying wait rounded up to whole seconds.
func RateLimited(wait time.Duration) *Error {
	return &Error{Category: CategoryRateLimited, WaitSeconds: waitSeconds(wait), Raw: "rate limited"}
}

// CategoryOf returns the category of err, classifying it when it is not already an *Error.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	return Classify(err).Category
}

// IsCategory reports whether err classifies to c.
func IsCategory(err error, c Category) bool {
	return err != nil && CategoryOf(err) == c
}

// trailingSeconds matches provider text such as "... only request this after 42 seconds."
var trailingSeconds = regexp.MustCompile(`(\d+)\s*seconds?\W*$`)

// Classify maps any provider or transport error to a categorized *Error.
// Structured errors are matched first; free-text provider messages are the fallback.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return &Error{Category: CategoryRateLimited, WaitSeconds: waitSeconds(rl.Wait), Raw: err.Error(), Err: err}
	}
	switch {
	case errors.Is(err, ErrInvalidCode):
		return &Error{Category: CategoryInvalidCode, Raw: err.Error(), Err: err}
	case errors.Is(err, ErrExpiredChallenge):
		return &Error{Category: CategoryExpiredChallenge, Raw: err.Error(), Err: err}
	case errors.Is(err, ErrFactorNotFound), errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrSessionNotActive):
		return &Error{Category: CategoryNotFound, Raw: err.Error(), Err: err}
	case errors.Is(err, ErrSMSNotConfigured):
		return &Error{Category: CategoryProviderMisconfigured, Raw: err.Error(), Err: err}
	case errors.Is(err, ErrAlreadyEnrolled):
		return &Error{Category: CategoryAlreadyEnrolled, Raw: err.Error(), Err: err}
	case errors.Is(err, ErrElevatedSessionRequired):
		return &Error{Category: CategoryElevationRequired, Raw: err.Error(), Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Error{Category: CategoryTransient, Raw: err.Error(), Err: err}
	}
	return classifyText(err)
}

func classifyText(err error) *Error {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many"),
		strings.Contains(lower, "only request this after"):
		out := &Error{Category: CategoryRateLimited, Raw: msg, Err: err}
		if m := trailingSeconds.FindStringSubmatch(msg); m != nil {
			if n, convErr := strconv.Atoi(m[1]); convErr == nil {
				out.WaitSeconds = n
			}
		}
		return out
	case strings.Contains(lower, "sms") && (strings.Contains(lower, "not configured") || strings.Contains(lower, "provider")):
		return &Error{Category: CategoryProviderMisconfigured, Raw: msg, Err: err}
	case strings.Contains(lower, "expired"):
		return &Error{Category: CategoryExpiredChallenge, Raw: msg, Err: err}
	case strings.Contains(lower, "invalid") && (strings.Contains(lower, "code") || strings.Contains(lower, "otp") || strings.Contains(lower, "totp")):
		return &Error{Category: CategoryInvalidCode, Raw: msg, Err: err}
	case strings.Contains(lower, "not found"):
		return &Error{Category: CategoryNotFound, Raw: msg, Err: err}
	}
	return &Error{Category: CategoryTransient, Raw: msg, Err: err}
}

func waitSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
