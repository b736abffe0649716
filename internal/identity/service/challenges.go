package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"schoolhub/backend/internal/mfa"
	mfadomain "schoolhub/backend/internal/mfa/domain"
	"schoolhub/backend/internal/ratelimit"
	sessiondomain "schoolhub/backend/internal/session/domain"
	userdomain "schoolhub/backend/internal/user/domain"
)

const (
	scopeChallenge = "mfa:challenge"
	scopeVerify    = "mfa:verify"
)

// CreateChallenge opens a challenge for factorID bound to sessionID and supersedes earlier ones.
// Phone factors get an SMS (or a dev OTP store entry); TOTP factors get a challenge id only.
// Pending factors are accepted so enrollment can be confirmed.
func (p *Provider) CreateChallenge(ctx context.Context, sessionID, factorID string) (*mfadomain.Challenge, error) {
	sess, err := p.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	f, err := p.Factors.GetByID(ctx, factorID)
	if err != nil {
		return nil, err
	}
	if f == nil || f.UserID != sess.UserID {
		return nil, mfa.ErrFactorNotFound
	}
	if f.Kind == mfadomain.KindPhone {
		if p.SMS == nil && p.DevOTP == nil {
			return nil, mfa.ErrSMSNotConfigured
		}
		if err := p.allow(ctx, scopeChallenge, factorID, p.cfg.ChallengeRule); err != nil {
			return nil, err
		}
	}
	now := p.now()
	c := &mfadomain.Challenge{
		ID:        uuid.NewString(),
		FactorID:  f.ID,
		UserID:    f.UserID,
		SessionID: sessionID,
		Kind:      f.Kind,
		Delivery:  mfadomain.DeliverySent,
		ExpiresAt: now.Add(p.cfg.ChallengeTTL),
		CreatedAt: now,
	}
	var code string
	if f.Kind == mfadomain.KindPhone {
		code, err = mfa.GenerateOTP()
		if err != nil {
			return nil, err
		}
		c.CodeHash = mfa.HashOTP(code)
	}
	if err := p.Challenges.DeleteByFactor(ctx, factorID); err != nil {
		return nil, err
	}
	if f.Kind == mfadomain.KindPhone {
		if p.DevOTP != nil {
			p.DevOTP.Put(ctx, c.ID, code, c.ExpiresAt)
		} else if err := p.SMS.SendOTP(ctx, f.Phone, code); err != nil {
			p.Logger.Warn("sms dispatch failed", zap.String("factor_id", factorID), zap.Error(err))
			return nil, err
		}
	}
	if err := p.Challenges.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// VerifyChallenge checks code against the challenge. On success the challenge is consumed and the
// refreshed session is returned. A verified factor elevates the session; a pending factor only
// becomes verified, and a confirmed phone number is copied to the user's phone contact.
// Failed attempts leave the challenge in place.
func (p *Provider) VerifyChallenge(ctx context.Context, sessionID, factorID, challengeID, code string) (*sessiondomain.Session, error) {
	if _, err := p.activeSession(ctx, sessionID); err != nil {
		return nil, err
	}
	c, err := p.Challenges.GetByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.SessionID != sessionID || c.FactorID != factorID {
		return nil, mfa.ErrChallengeNotFound
	}
	f, err := p.Factors.GetByID(ctx, factorID)
	if err != nil {
		return nil, err
	}
	if f == nil || f.UserID != c.UserID {
		return nil, mfa.ErrFactorNotFound
	}
	now := p.now()
	if c.Expired(now) {
		_ = p.Challenges.Delete(ctx, challengeID)
		return nil, mfa.ErrExpiredChallenge
	}
	if p.Limiter != nil {
		if err := p.Limiter.Check(ctx, scopeVerify, factorID, p.cfg.VerifyRule); err != nil {
			return nil, rateLimitErr(err)
		}
	}
	if !p.codeMatches(f, c, code) {
		if err := p.allow(ctx, scopeVerify, factorID, p.cfg.VerifyRule); err != nil {
			return nil, err
		}
		return nil, mfa.ErrInvalidCode
	}
	if err := p.Challenges.Delete(ctx, challengeID); err != nil {
		return nil, err
	}
	if p.DevOTP != nil {
		p.DevOTP.Delete(ctx, challengeID)
	}
	if p.Limiter != nil {
		if err := p.Limiter.Reset(ctx, scopeVerify, factorID); err != nil {
			p.Logger.Warn("reset verify limiter failed", zap.String("factor_id", factorID), zap.Error(err))
		}
	}
	if f.Status == mfadomain.StatusPending {
		// confirming a new factor proves possession of that factor only; it never elevates
		if _, err := p.Factors.MarkVerified(ctx, factorID, now); err != nil {
			return nil, err
		}
		p.Logger.Info("factor verified", zap.String("user_id", f.UserID), zap.String("factor_id", factorID))
		if f.Kind == mfadomain.KindPhone {
			if err := p.setContact(ctx, f.UserID, userdomain.ContactPhone, f.Phone, true); err != nil {
				p.Logger.Warn("sync phone contact failed", zap.String("user_id", f.UserID), zap.Error(err))
			}
		}
		return p.Sessions.GetByID(ctx, sessionID)
	}
	method := sessiondomain.AuthMethod{Method: string(f.Kind), FactorID: f.ID, At: now}
	if err := p.Sessions.Elevate(ctx, sessionID, method); err != nil {
		return nil, err
	}
	p.Logger.Info("session elevated", zap.String("session_id", sessionID), zap.String("factor_id", factorID))
	return p.Sessions.GetByID(ctx, sessionID)
}

func (p *Provider) codeMatches(f *mfadomain.Factor, c *mfadomain.Challenge, code string) bool {
	switch f.Kind {
	case mfadomain.KindPhone:
		return c.CodeHash != "" && mfa.OTPEqual(code, c.CodeHash)
	case mfadomain.KindTOTP:
		ok, err := totp.ValidateCustom(code, f.Secret, p.now(), totpValidateOpts)
		return err == nil && ok
	}
	return false
}

func (p *Provider) allow(ctx context.Context, scope, id string, rule ratelimit.Rule) error {
	if p.Limiter == nil {
		return nil
	}
	if err := p.Limiter.Allow(ctx, scope, id, rule); err != nil {
		return rateLimitErr(err)
	}
	return nil
}

// rateLimitErr converts limiter results into the provider's rate-limit error.
func rateLimitErr(err error) error {
	var limited *ratelimit.LimitedError
	if errors.As(err, &limited) {
		return &mfa.RateLimitError{Wait: limited.RetryAfter}
	}
	return err
}
