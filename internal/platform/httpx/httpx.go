// Package httpx holds the JSON request and response helpers shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"schoolhub/backend/internal/mfa"
)

// maxBody bounds request bodies read by Decode.
const maxBody = 1 << 20

var (
	ErrBadRequest      = errors.New("bad request")
	ErrUnauthenticated = errors.New("missing or invalid authorization")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
)

// ErrorBody is the JSON error envelope. Code is a stable machine-readable value; Message is safe to show.
type ErrorBody struct {
	Code        string `json:"error"`
	Message     string `json:"message"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
	Details     any    `json:"details,omitempty"`
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Decode reads a JSON body into v. Unknown fields are rejected.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}

// Error writes err as an ErrorBody. MFA failures keep their category as the code and their user
// message; raw diagnostics only reach the log.
func Error(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, body := Describe(err)
	if body.WaitSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(body.WaitSeconds))
	}
	if logger != nil {
		if status >= 500 {
			logger.Error("request failed", zap.Int("status", status), zap.Error(err))
		} else {
			logger.Debug("request rejected", zap.Int("status", status), zap.String("code", body.Code), zap.Error(err))
		}
	}
	JSON(w, status, body)
}

// ErrorWith writes err like Error and attaches details to the body.
func ErrorWith(w http.ResponseWriter, logger *zap.Logger, err error, details any) {
	status, body := Describe(err)
	body.Details = details
	if body.WaitSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(body.WaitSeconds))
	}
	if logger != nil {
		logger.Debug("request rejected", zap.Int("status", status), zap.String("code", body.Code), zap.Error(err))
	}
	JSON(w, status, body)
}

// Describe returns the status and user-safe body for err.
func Describe(err error) (int, ErrorBody) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, ErrorBody{Code: "bad_request", Message: "The request is malformed."}
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, mfa.ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrorBody{Code: "unauthorized", Message: "Sign in to continue."}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, ErrorBody{Code: "forbidden", Message: "You are not allowed to do this."}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, ErrorBody{Code: "not_found", Message: "Not found."}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, ErrorBody{Code: "conflict", Message: "The resource changed. Try again."}
	}
	var me *mfa.Error
	if errors.As(err, &me) {
		return mfaStatus(me.Category), ErrorBody{Code: string(me.Category), Message: me.UserMessage(), WaitSeconds: me.WaitSeconds}
	}
	return http.StatusInternalServerError, ErrorBody{Code: "internal", Message: "Something went wrong. Please try again."}
}

func mfaStatus(c mfa.Category) int {
	switch c {
	case mfa.CategoryInvalidCode, mfa.CategoryFormat:
		return http.StatusUnprocessableEntity
	case mfa.CategoryExpiredChallenge:
		return http.StatusGone
	case mfa.CategoryRateLimited:
		return http.StatusTooManyRequests
	case mfa.CategoryProviderMisconfigured:
		return http.StatusServiceUnavailable
	case mfa.CategoryNotFound:
		return http.StatusNotFound
	case mfa.CategoryNoVerifiedFactors, mfa.CategoryVerificationUnconfirmed, mfa.CategoryElevationRequired:
		return http.StatusForbidden
	case mfa.CategoryAlreadyEnrolled:
		return http.StatusConflict
	case mfa.CategoryCancelled:
		return http.StatusConflict
	case mfa.CategoryTransient:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
