package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func whoami(w http.ResponseWriter, r *http.Request) {
	id, ok := UserIDFromContext(r.Context())
	if !ok {
		id = "anonymous"
	}
	_, _ = w.Write([]byte(id))
}

func TestRequireAuth(t *testing.T) {
	ts := newTestTokenService(t)
	valid, _ := ts.Generate("user-1")
	expired, _ := ts.GenerateWithDuration("user-1", -time.Second)

	tests := []struct {
		name       string
		prepare    func(r *http.Request)
		wantStatus int
		wantBody   string
	}{
		{
			name:       "cookie",
			prepare:    func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: valid}) },
			wantStatus: http.StatusOK,
			wantBody:   "user-1",
		},
		{
			name:       "bearer header",
			prepare:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) },
			wantStatus: http.StatusOK,
			wantBody:   "user-1",
		},
		{
			name:       "lowercase scheme",
			prepare:    func(r *http.Request) { r.Header.Set("Authorization", "bearer "+valid) },
			wantStatus: http.StatusOK,
			wantBody:   "user-1",
		},
		{
			name: "header wins over cookie",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer garbage")
				r.AddCookie(&http.Cookie{Name: CookieName, Value: valid})
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired",
			prepare:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing",
			prepare:    func(*http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
	}

	h := RequireAuth(ts)(http.HandlerFunc(whoami))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"unauthorized"`)
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	ts := newTestTokenService(t)
	valid, _ := ts.Generate("user-2")
	h := OptionalAuth(ts)(http.HandlerFunc(whoami))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snippets/x", nil))
	assert.Equal(t, "anonymous", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/snippets/x", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/snippets/x", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: valid})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "user-2", rec.Body.String())
}

func TestRequireAuth_NilTokenService(t *testing.T) {
	h := RequireAuth(nil)(http.HandlerFunc(whoami))

	req := httptest.NewRequest(http.MethodGet, "/api/snippets", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
