package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"schoolhub/backend/internal/mfa"
	mfadomain "schoolhub/backend/internal/mfa/domain"
)

const enrollmentImageSize = 200

var totpValidateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// ListFactors returns the user's factors grouped by kind.
func (p *Provider) ListFactors(ctx context.Context, userID string) (*mfadomain.FactorSet, error) {
	factors, err := p.Factors.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return mfadomain.NewFactorSet(factors), nil
}

// EnrollFactor creates a pending factor for the session's user. For TOTP the secret, otpauth URI
// and a PNG data URL of the QR code are returned; phone must already be E.164. Once the user has a
// verified factor, further enrollments need an elevated session.
func (p *Provider) EnrollFactor(ctx context.Context, sessionID, userID string, kind mfadomain.Kind, phone, label string) (*mfadomain.Enrollment, error) {
	sess, err := p.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, mfa.ErrSessionNotActive
	}
	user, err := p.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, mfa.NewError(mfa.CategoryNotFound, "user not found")
	}
	existing, err := p.Factors.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sess.Elevated() {
		for _, e := range existing {
			if e.Verified() {
				return nil, mfa.ErrElevatedSessionRequired
			}
		}
	}
	now := p.now()
	f := &mfadomain.Factor{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Status:    mfadomain.StatusPending,
		Label:     label,
		CreatedAt: now,
		UpdatedAt: now,
	}
	out := &mfadomain.Enrollment{FactorID: f.ID, Kind: kind}
	switch kind {
	case mfadomain.KindTOTP:
		for _, e := range existing {
			if e.Kind == mfadomain.KindTOTP {
				return nil, mfa.ErrAlreadyEnrolled
			}
		}
	key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      p.cfg.TOTPIssuer,
			AccountName: user.Email,
		})
		if err != nil {
			return nil, fmt.Errorf("generate totp secret: %w", err)
		}
		image, err := qrDataURL(key)
		if err != nil {
			return nil, err
		}
		f.Secret = key.Secret()
		if f.Label == "" {
			f.Label = "Authenticator app"
		}
		out.Secret = key.Secret()
		out.URI = key.URL()
		out.Image = image
	case mfadomain.KindPhone:
		if phone == "" {
			return nil, mfa.NewError(mfa.CategoryFormat, "phone number is required")
		}
		f.Phone = phone
		if f.Label == "" {
			f.Label = "Phone " + maskPhone(phone)
		}
	default:
		return nil, mfa.NewError(mfa.CategoryFormat, "unknown factor kind "+string(kind))
	}
	if err := p.Factors.Create(ctx, f); err != nil {
		return nil, err
	}
	p.Logger.Info("factor enrolled", zap.String("user_id", userID), zap.String("factor_id", f.ID), zap.String("kind", string(kind)))
	return out, nil
}

// UnenrollFactor removes the factor and its challenges. A factor owned by someone else is reported as not found.
func (p *Provider) UnenrollFactor(ctx context.Context, userID, factorID string) error {
	f, err := p.Factors.GetByID(ctx, factorID)
	if err != nil {
		return err
	}
	if f == nil || f.UserID != userID {
		return mfa.ErrFactorNotFound
	}
	if err := p.Challenges.DeleteByFactor(ctx, factorID); err != nil {
		return err
	}
	if err := p.Factors.Delete(ctx, factorID); err != nil {
		return err
	}
	p.Logger.Info("factor removed", zap.String("user_id", userID), zap.String("factor_id", factorID))
	return nil
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(enrollmentImageSize, enrollmentImageSize)
	if err != nil {
		return "", fmt.Errorf("render totp qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode totp qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// maskPhone keeps the last four digits.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return "•••" + phone[len(phone)-4:]
}
