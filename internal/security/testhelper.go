package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"time"
)

// testPrivateKeyPEM and testPublicKeyPEM are a P-256 pair generated per test binary.
var testPrivateKeyPEM, testPublicKeyPEM = generateTestKeyPEM()

func generateTestKeyPEM() (string, string) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	priv, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		panic(err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		panic(err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: priv})),
		string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}))
}

// NewTestTokenProvider returns an ES256 TokenProvider over the generated test key pair. Tests only.
func NewTestTokenProvider() (*TokenProvider, error) {
	return NewTokenProviderFromConfig(testPrivateKeyPEM, testPublicKeyPEM, "", "test-issuer", "test-audience", 15*time.Minute)
}
