// Package auth issues and checks the JWTs that identify a signed-in user to
// the snippet API, and wraps GitHub's OAuth flow.
//
// AUTHENTICATION FLOW:
//  1. Browser visits /auth/github/login and is redirected to GitHub
//  2. GitHub calls back /auth/github/callback with a code
//  3. The server exchanges the code for a GitHub profile, upserts the user and
//     sets an HttpOnly "token" cookie holding a JWT
//  4. Browsers send the cookie; the CLI and other API clients send the same
//     JWT as "Authorization: Bearer <jwt>" (see POST /api/tokens)
//
// The JWT subject is the internal user id. It is also the owner id stored on
// every snippet, so the change feed and the ownership checks key on it.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "snippetvault"

	// DefaultTTL is the lifetime of the browser session cookie's token.
	DefaultTTL = 24 * time.Hour
)

// TokenService signs and verifies HS256 tokens with one shared secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// TokenOption customizes a TokenService.
type TokenOption func(*TokenService)

// WithTTL changes the lifetime Generate uses.
func WithTTL(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// NewTokenService rejects secrets shorter than 16 characters.
// Generate one with: openssl rand -hex 32
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	s := &TokenService{secret: []byte(secret), ttl: DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL is the lifetime of tokens returned by Generate.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Generate signs a token for userID that expires after TTL.
func (s *TokenService) Generate(userID string) (string, error) {
	return s.GenerateWithDuration(userID, s.ttl)
}

// GenerateWithDuration signs a token with a custom lifetime. API tokens for
// the CLI are longer lived than the cookie; tests use negative durations to
// get expired tokens.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: cannot sign a token without a subject")
	}
	now := time.Now()
	c := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		Issuer:    issuer,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies signature, algorithm, issuer and expiry, and returns the
// user id from the subject claim.
//
// jwt.WithValidMethods pins HS256, which stops an attacker from presenting a
// token with "alg":"none".
func (s *TokenService) Validate(tokenStr string) (string, error) {
	var c jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}
	return c.Subject, nil
}
