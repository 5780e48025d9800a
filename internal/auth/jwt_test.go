package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("store-secret"))
	require.NoError(t, err)
	return tok
}

func TestTokenValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	fresh := signed(t, Claims{UserID: "u-1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))}})
	stale := signed(t, Claims{UserID: "u-1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute))}})
	noExp := signed(t, Claims{UserID: "u-1"})

	assert.True(t, TokenValid(fresh, now))
	assert.False(t, TokenValid(stale, now))
	assert.False(t, TokenValid(noExp, now))
	assert.False(t, TokenValid("demo_1700000000000", now))
	assert.False(t, TokenValid("", now))
}

func TestParseClaims(t *testing.T) {
	tok := signed(t, Claims{UserID: "u-9", Email: "a@b.co", RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-9"}})
	c, err := ParseClaims(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-9", c.UserID)
	assert.Equal(t, "a@b.co", c.Email)
	assert.Equal(t, "sub-9", c.Subject)

	_, err = ParseClaims("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
