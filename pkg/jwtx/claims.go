package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access-token claims issued by the chat service. Only the
// user id and the expiry are consumed client side.
type Claims struct {
	jwt.RegisteredClaims

	// UserID identifies the anonymous account the token was issued to.
	UserID string `json:"id"`
}

// NewAccessClaims builds minimally-correct claims for userID.
func NewAccessClaims(userID string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
	}
}

// ParseUnverified decodes a token without checking its signature. The
// issuing server is the trust boundary, the client only needs id and exp.
func ParseUnverified(raw string) (*Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := claims.validateRequired(); err != nil {
		return nil, err
	}

	return &claims, nil
}

// ExpiresAtTime returns exp as a time, or the zero time when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

func (c *Claims) validateRequired() error {
	if c.UserID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidClaim)
	}
	if c.ExpiresAt == nil {
		return fmt.Errorf("%w: missing exp", ErrInvalidClaim)
	}
	return nil
}

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrInvalidSig   = errors.New("jwtx: invalid signature")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)
