// Package service is the in-process identity provider: password authentication, sessions
// with an assurance level, factor storage and challenge verification.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schoolhub/backend/internal/devotp"
	identitydomain "schoolhub/backend/internal/identity/domain"
	"schoolhub/backend/internal/lock"
	"schoolhub/backend/internal/mfa"
	mfadomain "schoolhub/backend/internal/mfa/domain"
	"schoolhub/backend/internal/mfa/sms"
	"schoolhub/backend/internal/ratelimit"
	"schoolhub/backend/internal/security"
	sessiondomain "schoolhub/backend/internal/session/domain"
	userdomain "schoolhub/backend/internal/user/domain"
)

// UserRepo is the minimal user repository needed by the provider.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// ContactRepo is the minimal contact repository needed by the provider.
type ContactRepo interface {
	GetContact(ctx context.Context, userID string, kind userdomain.ContactKind) (*userdomain.Contact, error)
	CreateContact(ctx context.Context, c *userdomain.Contact) error
	UpdateContact(ctx context.Context, c *userdomain.Contact) error
}

// IdentityRepo is the minimal credential repository needed by the provider.
type IdentityRepo interface {
	GetByUserID(ctx context.Context, userID string) (*identitydomain.Identity, error)
}

// SessionRepo is the minimal session repository needed by the provider.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	Create(ctx context.Context, s *sessiondomain.Session) error
	Revoke(ctx context.Context, id string) error
	Elevate(ctx context.Context, id string, method sessiondomain.AuthMethod) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

// FactorRepo is the minimal factor repository needed by the provider.
type FactorRepo interface {
	Create(ctx context.Context, f *mfadomain.Factor) error
	GetByID(ctx context.Context, id string) (*mfadomain.Factor, error)
	ListByUser(ctx context.Context, userID string) ([]*mfadomain.Factor, error)
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}

// ChallengeRepo is the minimal challenge repository needed by the provider.
type ChallengeRepo interface {
	Create(ctx context.Context, c *mfadomain.Challenge) error
	GetByID(ctx context.Context, id string) (*mfadomain.Challenge, error)
	Delete(ctx context.Context, id string) error
	DeleteByFactor(ctx context.Context, factorID string) error
}

// Limiter is the rate limiter used for challenge dispatch and verify attempts.
type Limiter interface {
	Allow(ctx context.Context, scope, id string, rule ratelimit.Rule) error
	Check(ctx context.Context, scope, id string, rule ratelimit.Rule) error
	Reset(ctx context.Context, scope, id string) error
}

// Config holds provider tuning. Zero values fall back to defaults in NewProvider.
type Config struct {
	SessionTTL   time.Duration
	ChallengeTTL time.Duration
	TOTPIssuer   string
	// ChallengeRule bounds phone challenges per factor; VerifyRule bounds failed verifies per factor.
	ChallengeRule ratelimit.Rule
	VerifyRule    ratelimit.Rule
	// ContactLockTTL bounds how long a contact update may hold its lock.
	ContactLockTTL time.Duration
}

// Deps holds the provider's collaborators. SMS may be nil when DevOTP is set; Limiter may be nil.
type Deps struct {
	Users      UserRepo
	Contacts   ContactRepo
	Identities IdentityRepo
	Sessions   SessionRepo
	Factors    FactorRepo
	Challenges ChallengeRepo
	Hasher     *security.Hasher
	Tokens     *security.TokenProvider
	SMS        sms.Sender
	DevOTP     devotp.Store
	Limiter    Limiter
	Locker     lock.Locker
	Logger     *zap.Logger
}

// Provider implements the identity/session provider contract in-process.
type Provider struct {
	Deps
	cfg  Config
	nowF func() time.Time
}

// NewProvider returns a Provider with defaults applied to cfg.
func NewProvider(deps Deps, cfg Config) *Provider {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	if cfg.TOTPIssuer == "" {
		cfg.TOTPIssuer = "SchoolHub"
	}
	if cfg.ContactLockTTL <= 0 {
		cfg.ContactLockTTL = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewMemoryLocker()
	}
	return &Provider{Deps: deps, cfg: cfg, nowF: time.Now}
}

func (p *Provider) now() time.Time {
	return p.nowF().UTC()
}

// AuthResult is the outcome of Authenticate.
type AuthResult struct {
	User        *userdomain.User
	Session     *sessiondomain.Session
	AccessToken string
	ExpiresAt   time.Time
}

// Authenticate verifies email/password and opens a base-assurance session bound to deviceID.
func (p *Provider) Authenticate(ctx context.Context, email, password, deviceID string) (*AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, mfa.ErrInvalidCredentials
	}
	user, err := p.Users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		p.Hasher.Matches("", password)
		return nil, mfa.ErrInvalidCredentials
	}
	ident, err := p.Identities.GetByUserID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	hash := ""
	if ident != nil {
		hash = ident.PasswordHash
	}
	if !p.Hasher.Matches(hash, password) {
		return nil, mfa.ErrInvalidCredentials
	}
	now := p.now()
	sess := &sessiondomain.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		DeviceID:  strings.TrimSpace(deviceID),
		Assurance: sessiondomain.AssuranceBase,
		Methods:   []sessiondomain.AuthMethod{{Method: sessiondomain.MethodPassword, At: now}},
		ExpiresAt: now.Add(p.cfg.SessionTTL),
		CreatedAt: now,
	}
	if err := p.Sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	token, exp, err := p.Tokens.Issue(sess.ID, user.ID, sess.ExpiresAt)
	if err != nil {
		return nil, err
	}
	p.Logger.Info("session opened", zap.String("user_id", user.ID), zap.String("session_id", sess.ID))
	return &AuthResult{User: user, Session: sess, AccessToken: token, ExpiresAt: exp}, nil
}

// Logout revokes the session. It is the only way assurance steps down.
func (p *Provider) Logout(ctx context.Context, sessionID string) error {
	return p.Sessions.Revoke(ctx, sessionID)
}

// GetSession returns the live session for sessionID, or nil when it is missing, revoked or expired.
func (p *Provider) GetSession(ctx context.Context, sessionID string) (*sessiondomain.Session, error) {
	sess, err := p.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := p.now()
	if !sess.Active(now) {
		return nil, nil
	}
	if err := p.Sessions.UpdateLastSeen(ctx, sessionID, now); err != nil {
		p.Logger.Warn("update last seen failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return sess, nil
}

// User returns the user for id, or nil if not found.
func (p *Provider) User(ctx context.Context, userID string) (*userdomain.User, error) {
	return p.Users.GetByID(ctx, userID)
}

func (p *Provider) activeSession(ctx context.Context, sessionID string) (*sessiondomain.Session, error) {
	sess, err := p.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Active(p.now()) {
		return nil, mfa.ErrSessionNotActive
	}
	return sess, nil
}
