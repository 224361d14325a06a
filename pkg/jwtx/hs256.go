package jwtx

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// HS256 signs and verifies tokens with a shared secret. The chat service
// owns the real key; this is what local fakes and tooling use to mint
// tokens with the same claim layout.
type HS256 struct {
	key []byte
}

// NewHS256 returns an HS256 signer/verifier for key.
func NewHS256(key []byte) (*HS256, error) {
	if len(key) == 0 {
		return nil, errors.New("jwtx: empty HS256 key")
	}
	return &HS256{key: key}, nil
}

// Sign takes your claims and turns them into a signed JWT string.
func (h *HS256) Sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.key)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return signed, nil
}

// Verify validates the JWT string and returns its parsed Claims.
func (h *HS256) Verify(raw string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	token, err := parser.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return h.key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSig
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaim
	}
	if err := claims.validateRequired(); err != nil {
		return nil, err
	}

	return claims, nil
}
