package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials holds the bearer token the desk presents to the academy
// backend. It is set on login and cleared on logout; a JWT whose exp has
// passed reads as empty. Tokens that are not JWTs never expire locally.
type Credentials struct {
	mu    sync.RWMutex
	token string
	exp   time.Time
	now   func() time.Time
}

// NewCredentials returns a store seeded with token, which may be empty.
func NewCredentials(token string) *Credentials {
	c := &Credentials{now: time.Now}
	c.Set(token)
	return c
}

// Set replaces the stored token.
func (c *Credentials) Set(token string) {
	exp := expiryOf(token)
	c.mu.Lock()
	c.token, c.exp = token, exp
	c.mu.Unlock()
}

// Clear forgets the token.
func (c *Credentials) Clear() {
	c.Set("")
}

// Token returns the current token, or "" when none is set or it has expired.
func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return ""
	}
	if !c.exp.IsZero() && !c.now().Before(c.exp) {
		return ""
	}
	return c.token
}

// ExpiresAt is the token's exp claim; zero when unknown.
func (c *Credentials) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exp
}

// expiryOf reads exp without verifying the signature; the desk cannot verify
// upstream tokens and only uses exp to stop sending stale ones.
func expiryOf(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
