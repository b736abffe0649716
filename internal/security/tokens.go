package security

import (
	"crypto"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned when a token is malformed, expired or signed by another key.
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims identifies a session. Assurance is never carried in the token; callers
// re-read the session to learn whether it is elevated.
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// TokenProvider issues and validates access JWTs (RS256/ES256 with a key pair, or HS256 with a secret).
type TokenProvider struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	audience  string
	ttl       time.Duration
	nowF      func() time.Time
}

// NewTokenProvider returns a provider that signs with privateKey and verifies with publicKey.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, ttl time.Duration) (*TokenProvider, error) {
	var method jwt.SigningMethod
	switch KeyAlg(publicKey) {
	case "RS256":
		method = jwt.SigningMethodRS256
	case "ES256":
		method = jwt.SigningMethodES256
	default:
		return nil, ErrInvalidKey
	}
	return &TokenProvider{method: method, signKey: privateKey, verifyKey: publicKey, issuer: issuer, audience: audience, ttl: ttl, nowF: time.Now}, nil
}

// NewHMACTokenProvider returns a provider using HS256 with secret. Intended for development.
func NewHMACTokenProvider(secret []byte, issuer, audience string, ttl time.Duration) (*TokenProvider, error) {
	if len(secret) < 32 {
		return nil, ErrInvalidKey
	}
	return &TokenProvider{method: jwt.SigningMethodHS256, signKey: secret, verifyKey: secret, issuer: issuer, audience: audience, ttl: ttl, nowF: time.Now}, nil
}

// Issue returns an access token for the session. The token never outlives sessionExpiresAt.
func (p *TokenProvider) Issue(sessionID, userID string, sessionExpiresAt time.Time) (string, time.Time, error) {
	now := p.nowF().UTC()
	exp := now.Add(p.ttl)
	if !sessionExpiresAt.IsZero() && sessionExpiresAt.Before(exp) {
		exp = sessionExpiresAt
	}
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		SessionID: sessionID,
	}
	token, err := jwt.NewWithClaims(p.method, claims).SignedString(p.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Validate parses token and returns its session and user ids.
func (p *TokenProvider) Validate(token string) (sessionID, userID string, err error) {
	var claims AccessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return p.verifyKey, nil
	},
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithTimeFunc(p.nowF),
	)
	if err != nil || !parsed.Valid || claims.SessionID == "" || claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return claims.SessionID, claims.Subject, nil
}
