package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "jwt-test-secret-0123456789"

func newTestTokenService(t *testing.T, opts ...TokenOption) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret, opts...)
	require.NoError(t, err)
	return ts
}

// signed builds a token by hand so claims the service never emits can be
// tested.
func signed(t *testing.T, method jwt.SigningMethod, key any, c jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, c).SignedString(key)
	require.NoError(t, err)
	return s
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNewTokenService(t *testing.T) {
	_, err := NewTokenService("short")
	assert.Error(t, err)

	ts := newTestTokenService(t)
	assert.Equal(t, DefaultTTL, ts.TTL())

	assert.Equal(t, time.Minute, newTestTokenService(t, WithTTL(time.Minute)).TTL())
	assert.Equal(t, DefaultTTL, newTestTokenService(t, WithTTL(0)).TTL(), "non-positive TTL ignored")
}

// =========================================================================
// GENERATE / VALIDATE
// =========================================================================

func TestGenerateValidate(t *testing.T) {
	ts := newTestTokenService(t)

	a, err := ts.Generate("user-a")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(a, "."), "header.payload.signature")

	b, err := ts.GenerateWithDuration("user-b", time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	got, err := ts.Validate(a)
	require.NoError(t, err)
	assert.Equal(t, "user-a", got)

	got, err = ts.Validate(b)
	require.NoError(t, err)
	assert.Equal(t, "user-b", got)

	_, err = ts.Generate("")
	assert.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	other, err := NewTokenService("a-different-secret-987654321")
	require.NoError(t, err)

	good, err := ts.Generate("user-1")
	require.NoError(t, err)
	expired, err := ts.GenerateWithDuration("user-1", -time.Second)
	require.NoError(t, err)
	foreignKey, err := other.Generate("user-1")
	require.NoError(t, err)

	hour := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"empty", "", "invalid token"},
		{"garbage", "not.a.jwt.token", "invalid token"},
		{"tampered signature", good[:len(good)-3] + "xxx", "invalid token"},
		{"expired", expired, "token expired"},
		{"other secret", foreignKey, "invalid token"},
		{"other issuer", signed(t, jwt.SigningMethodHS256, []byte(testSecret),
			jwt.RegisteredClaims{Subject: "user-1", Issuer: "someone-else", ExpiresAt: hour}), "invalid token"},
		{"no expiry", signed(t, jwt.SigningMethodHS256, []byte(testSecret),
			jwt.RegisteredClaims{Subject: "user-1", Issuer: issuer}), "invalid token"},
		{"no subject", signed(t, jwt.SigningMethodHS256, []byte(testSecret),
			jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: hour}), "no subject"},
		{"HS512", signed(t, jwt.SigningMethodHS512, []byte(testSecret),
			jwt.RegisteredClaims{Subject: "user-1", Issuer: issuer, ExpiresAt: hour}), "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.Validate(tt.token)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
