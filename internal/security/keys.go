package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"
	"time"
)

// ErrInvalidKey is returned when PEM, key type or HMAC secret is unusable.
var ErrInvalidKey = errors.New("invalid key")

// LoadPEM returns s as PEM when it is inline (literal \n sequences allowed), otherwise reads the file at s.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	return os.ReadFile(s)
}

func decodePEM(s string) (*pem.Block, error) {
	raw, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, ErrInvalidKey
	}
	return block, nil
}

// ParsePrivateKey parses a PEM-encoded RSA or ECDSA private key given inline or as a path.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	block, err := decodePEM(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
	}
	return nil, ErrInvalidKey
}

// ParsePublicKey parses a PEM-encoded RSA or ECDSA public key given inline or as a path.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	block, err := decodePEM(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	}
	return nil, ErrInvalidKey
}

// KeyAlg returns "RS256" for RSA and "ES256" for ECDSA public keys; empty otherwise.
func KeyAlg(pub crypto.PublicKey) string {
	switch pub.(type) {
	case *rsa.PublicKey:
		return "RS256"
	case *ecdsa.PublicKey:
		return "ES256"
	}
	return ""
}

// NewTokenProviderFromConfig builds an RS/ES provider from PEM material, falling back to
// HS256 with secret when no key pair is configured.
func NewTokenProviderFromConfig(privatePEM, publicPEM, secret, issuer, audience string, ttl time.Duration) (*TokenProvider, error) {
	if privatePEM == "" && publicPEM == "" {
		return NewHMACTokenProvider([]byte(secret), issuer, audience, ttl)
	}
	signer, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(signer, pub, issuer, audience, ttl)
}
