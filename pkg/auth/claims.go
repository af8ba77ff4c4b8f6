package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims is the subset of claims the layer derives from a bearer
// token. Tokens are parsed WITHOUT signature verification: the backend
// stays the authority on validity, the client only needs the expiry for
// lifecycle decisions and the role for the mirror.
type tokenClaims struct {
	ExpiresAt time.Time
	Role      string
}

// parseClaims decodes token and extracts the expiry and role claims.
// Tokens without a readable expiry are rejected; the absent-or-valid
// invariant cannot hold for a credential of unknown lifetime.
func parseClaims(token string) (tokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return tokenClaims{}, fmt.Errorf("parse token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return tokenClaims{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return tokenClaims{}, fmt.Errorf("token has no exp claim")
	}

	parsed := tokenClaims{ExpiresAt: exp.Time}
	if role, ok := claims["role"].(string); ok {
		parsed.Role = role
	}
	return parsed, nil
}
