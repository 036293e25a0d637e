package remote

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the bearer token attached to every call. The client never
// verifies its signature; claims are read only to short-circuit calls that
// the service would reject anyway.
type Credential struct {
	Token string
}

// NewCredential trims an optional "Bearer " prefix.
func NewCredential(token string) Credential {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return Credential{Token: token}
}

// Empty reports whether no token is configured.
func (c Credential) Empty() bool {
	return strings.TrimSpace(c.Token) == ""
}

// Validate returns ErrUnauthenticated for a missing or expired token. Opaque
// (non-JWT) tokens are accepted as-is.
func (c Credential) Validate(now time.Time) error {
	if c.Empty() {
		return fmt.Errorf("%w: no credential configured", ErrUnauthenticated)
	}
	claims, ok := c.claims()
	if !ok || claims.ExpiresAt == nil {
		return nil
	}
	if !now.Before(claims.ExpiresAt.Time) {
		return fmt.Errorf("%w: credential expired at %s", ErrUnauthenticated, claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	return nil
}

// Subject returns the JWT "sub" claim, or "" for opaque tokens.
func (c Credential) Subject() string {
	claims, ok := c.claims()
	if !ok {
		return ""
	}
	return claims.Subject
}

// ExpiresAt returns the JWT expiry when present.
func (c Credential) ExpiresAt() (time.Time, bool) {
	claims, ok := c.claims()
	if !ok || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (c Credential) claims() (*jwt.RegisteredClaims, bool) {
	if c.Empty() || strings.Count(c.Token, ".") != 2 {
		return nil, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.Token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

func (c Credential) header() string {
	return "Bearer " + c.Token
}
