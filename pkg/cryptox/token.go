// Package cryptox holds the small amount of cryptography the client needs:
// minting opaque secrets and fingerprinting them for logs.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// SecretSize is the byte length of secrets minted for new anonymous
// accounts (43 chars base64url).
const SecretSize = 32

// fingerprintLen is how many characters of the digest show up in logs.
const fingerprintLen = 10

// GenerateToken creates a cryptographically secure random token of the specified byte length.
// The token is returned as a base64url-encoded string (URL-safe, no padding).
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewSecret mints an account secret.
func NewSecret() (string, error) {
	return GenerateToken(SecretSize)
}

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token,
// base64url-encoded (43 chars).
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Fingerprint is the short form of FingerprintToken. It is stable across
// runs so two log lines can be matched to the same secret without either
// revealing it. Empty input stays empty.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	return FingerprintToken(secret)[:fingerprintLen]
}
