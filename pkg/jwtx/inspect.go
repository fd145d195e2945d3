// Package jwtx reads claims out of bearer credentials handed to the SDK so the
// client can tell when cached credentials have gone stale. Signatures are not
// checked here; the backend remains the authority on validity.
package jwtx

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLeeway absorbs clock skew between device and backend.
const DefaultLeeway = 30 * time.Second

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
)

// Claims is the subset of claims the client cares about.
type Claims struct {
	jwt.RegisteredClaims

	// Scope as issued by OAuth2 servers ("a b c").
	Scope string `json:"scope,omitempty"`
}

// LooksLikeJWT reports whether token has the three-segment compact shape.
func LooksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

// ParseUnverified decodes the claims of a compact JWT without verifying it.
func ParseUnverified(token string) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return Claims{}, errors.Join(ErrMalformed, err)
	}

	return claims, nil
}

// ExpiresAt returns the exp claim of token, if the token is a JWT that has one.
func ExpiresAt(token string) (time.Time, bool) {
	if !LooksLikeJWT(token) {
		return time.Time{}, false
	}

	claims, err := ParseUnverified(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}

	return claims.ExpiresAt.Time, true
}

// ValidateExpiryWithLeeway checks exp and nbf against now, allowing leeway.
func (c *Claims) ValidateExpiryWithLeeway(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}
