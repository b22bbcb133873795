package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// CookieName is the cookie the OAuth callback stores the JWT in.
const CookieName = "token"

// contextKey is unexported so no other package can read or overwrite the
// user id stored by these middlewares.
type contextKey string

const userIDKey contextKey = "userID"

// errAuthDisabled is what a server without JWT_SECRET answers to every
// authenticated route.
var errAuthDisabled = errors.New("auth: no token service configured")

// RequireAuth rejects requests without a valid token with 401 and otherwise
// stores the token's user id in the request context. A nil tokens rejects
// everything.
//
// The token is taken from "Authorization: Bearer <jwt>" when present, else
// from the "token" cookie. Browsers use the cookie; the CLI and WebSocket
// clients outside a browser send the header.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := extractUserID(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// OptionalAuth records the user when a valid token is present and lets
// anonymous requests through. Deep-link lookups use it.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, err := extractUserID(r, tokens); err == nil {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUserID returns ctx carrying userID, as RequireAuth would set it.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func extractUserID(r *http.Request, tokens *TokenService) (string, error) {
	if tokens == nil {
		return "", errAuthDisabled
	}
	if token, ok := bearerToken(r); ok {
		return tokens.Validate(token)
	}
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", err
	}
	return tokens.Validate(cookie.Value)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
