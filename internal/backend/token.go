package backend

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL applies when the backend token carries no expiry of its
// own (opaque tokens).
const DefaultTokenTTL = 24 * time.Hour

// SessionToken identifies an authenticated backend session. It is an
// immutable value passed explicitly into every metered call; nothing in this
// package keeps auth state in package-level variables.
type SessionToken struct {
	UserID    string
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewSessionToken builds a token issued now. When value parses as a JWT with
// an exp claim, expiry comes from the claim; otherwise IssuedAt plus
// DefaultTokenTTL.
func NewSessionToken(userID, value string, issuedAt time.Time) SessionToken {
	tok := SessionToken{
		UserID:    userID,
		Value:     value,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(DefaultTokenTTL),
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	// The signature is the backend's concern; we only read the expiry.
	if _, _, err := parser.ParseUnverified(value, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			tok.ExpiresAt = exp.Time
		}
	}
	return tok
}

// Valid reports whether the token has both identity and material.
func (t SessionToken) Valid() bool {
	return t.UserID != "" && t.Value != ""
}

// ExpiredAt reports whether the token is past its expiry at the given time.
func (t SessionToken) ExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
