package chatsdk

import (
	"time"

	"github.com/aussiebroadwan/randchat/pkg/jwtx"
)

// Token is a decoded access token. It is replaced, never mutated, when the
// session logs in again.
type Token struct {
	Raw       string
	UserID    string
	ExpiresAt time.Time
}

// ParseToken decodes raw without verifying its signature; the issuing
// server is trusted.
func ParseToken(raw string) (*Token, error) {
	claims, err := jwtx.ParseUnverified(raw)
	if err != nil {
		return nil, serviceError(0, "malformed access token", err)
	}

	return &Token{
		Raw:       raw,
		UserID:    claims.UserID,
		ExpiresAt: claims.ExpiresAtTime(),
	}, nil
}

// ExpiredAt reports whether the token is expired at now. A token is usable
// up to and including its expiry instant.
func (t *Token) ExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Expired reports whether the token has expired.
func (t *Token) Expired() bool {
	return t.ExpiredAt(time.Now())
}
