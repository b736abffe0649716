// Package registry manages a user's second factors on top of the identity provider.
// Every error it returns is a categorized *mfa.Error.
package registry

import (
	"context"

	"go.uber.org/zap"

	"schoolhub/backend/internal/mfa"
	"schoolhub/backend/internal/mfa/domain"
	sessiondomain "schoolhub/backend/internal/session/domain"
)

// Provider is the part of the identity provider the registry needs.
type Provider interface {
	ListFactors(ctx context.Context, userID string) (*domain.FactorSet, error)
	EnrollFactor(ctx context.Context, sessionID, userID string, kind domain.Kind, phone, label string) (*domain.Enrollment, error)
	UnenrollFactor(ctx context.Context, userID, factorID string) error
	CreateChallenge(ctx context.Context, sessionID, factorID string) (*domain.Challenge, error)
	VerifyChallenge(ctx context.Context, sessionID, factorID, challengeID, code string) (*sessiondomain.Session, error)
}

// EnrollRequest describes a new factor. Phone is required for phone-otp and is normalized first.
// SessionID is the caller's session; it must be elevated once the user has a verified factor.
type EnrollRequest struct {
	SessionID string
	Kind      domain.Kind
	Phone     string
	Label     string
}

// ConfirmRequest confirms a pending factor. ChallengeID is empty for TOTP, where the registry
// opens the challenge itself; phone factors pass the id returned by StartConfirmation.
type ConfirmRequest struct {
	SessionID   string
	UserID      string
	FactorID    string
	ChallengeID string
	Code        string
}

// Registry implements list/enroll/confirm/unenroll over a Provider.
type Registry struct {
	provider    Provider
	countryCode string
	logger      *zap.Logger
}

// New returns a Registry. countryCode replaces a national leading 0 in phone numbers.
func New(provider Provider, countryCode string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{provider: provider, countryCode: countryCode, logger: logger}
}

// List returns the user's factors; TOTP and Phone hold verified factors only.
func (r *Registry) List(ctx context.Context, userID string) (*domain.FactorSet, error) {
	set, err := r.provider.ListFactors(ctx, userID)
	if err != nil {
		return nil, mfa.Classify(err)
	}
	return set, nil
}

// Enroll creates a pending factor. A second TOTP factor is rejected with already-enrolled and a
// base session of a user with a verified factor with elevation-required.
func (r *Registry) Enroll(ctx context.Context, userID string, req EnrollRequest) (*domain.Enrollment, error) {
	if !req.Kind.Valid() {
		return nil, mfa.NewError(mfa.CategoryFormat, "unknown factor kind")
	}
	phone := ""
	if req.Kind == domain.KindPhone {
		var err error
		if phone, err = NormalizePhone(req.Phone, r.countryCode); err != nil {
			return nil, err
		}
	}
	enr, err := r.provider.EnrollFactor(ctx, req.SessionID, userID, req.Kind, phone, req.Label)
	if err != nil {
		return nil, mfa.Classify(err)
	}
	return enr, nil
}

// StartConfirmation sends the enrollment code for a pending phone factor.
func (r *Registry) StartConfirmation(ctx context.Context, sessionID, userID, factorID string) (*domain.Challenge, error) {
	f, err := r.pending(ctx, userID, factorID)
	if err != nil {
		return nil, err
	}
	if f.Kind != domain.KindPhone {
		return nil, mfa.NewError(mfa.CategoryFormat, "only phone factors need a confirmation code to be sent")
	}
	c, err := r.provider.CreateChallenge(ctx, sessionID, factorID)
	if err != nil {
		return nil, mfa.Classify(err)
	}
	return c, nil
}

// ConfirmEnrollment verifies code for a pending factor, moving it to verified. The session's
// assurance is left as it was. On failure the factor stays pending and the caller may retry.
func (r *Registry) ConfirmEnrollment(ctx context.Context, req ConfirmRequest) (*sessiondomain.Session, error) {
	code := mfa.SanitizeCode(req.Code)
	if err := mfa.ValidateCode(code); err != nil {
		return nil, err
	}
	f, err := r.pending(ctx, req.UserID, req.FactorID)
	if err != nil {
		return nil, err
	}
	challengeID := req.ChallengeID
	if challengeID == "" {
		if f.Kind != domain.KindTOTP {
			return nil, mfa.NewError(mfa.CategoryNotFound, "no confirmation code was sent for this factor")
		}
		c, err := r.provider.CreateChallenge(ctx, req.SessionID, f.ID)
		if err != nil {
			return nil, mfa.Classify(err)
		}
		challengeID = c.ID
	}
	sess, err := r.provider.VerifyChallenge(ctx, req.SessionID, f.ID, challengeID, code)
	if err != nil {
		return nil, mfa.Classify(err)
	}
	r.logger.Info("factor confirmed", zap.String("user_id", req.UserID), zap.String("factor_id", f.ID))
	return sess, nil
}

// Unenroll removes the factor from either state. The registry applies no last-factor rule;
// removing an unknown factor yields not-found.
func (r *Registry) Unenroll(ctx context.Context, userID, factorID string) error {
	if err := r.provider.UnenrollFactor(ctx, userID, factorID); err != nil {
		return mfa.Classify(err)
	}
	return nil
}

func (r *Registry) pending(ctx context.Context, userID, factorID string) (*domain.Factor, error) {
	set, err := r.provider.ListFactors(ctx, userID)
	if err != nil {
		return nil, mfa.Classify(err)
	}
	f := set.Find(factorID)
	if f == nil {
		return nil, mfa.Classify(mfa.ErrFactorNotFound)
	}
	if f.Verified() {
		return nil, mfa.NewError(mfa.CategoryAlreadyEnrolled, "factor is already verified")
	}
	return f, nil
}
