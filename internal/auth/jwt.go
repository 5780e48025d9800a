package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the fields the agent reads from a store-issued token.
// The agent never holds the signing key, so the signature is not checked here.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims decodes the token payload without verifying it.
func ParseClaims(token string) (*Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}

// TokenValid reports whether token decodes and its exp lies after now.
// A token without exp is treated as expired.
func TokenValid(token string, now time.Time) bool {
	claims, err := ParseClaims(token)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.After(now)
}
