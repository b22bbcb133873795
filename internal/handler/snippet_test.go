package handler_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/snippetvault/internal/auth"
	"github.com/sakif/snippetvault/internal/changefeed"
	"github.com/sakif/snippetvault/internal/docstore"
	"github.com/sakif/snippetvault/internal/handler"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/repository/memory"
	"github.com/sakif/snippetvault/internal/service"
)

// =========================================================================
// TEST FIXTURE
// =========================================================================
//
// fixture mounts the real handlers on a chi router over an in-memory
// repository, the same way internal/server does, so URL params and the auth
// middleware behave as in production.

type fixture struct {
	router *chi.Mux
	repo   *memory.Repo
	tokens *auth.TokenService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newFixture(t *testing.T, provider handler.IdentityProvider) *fixture {
	t.Helper()
	logger := testLogger()

	repo := memory.New()
	broker := changefeed.NewBroker(logger)
	t.Cleanup(broker.Close)

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789")
	require.NoError(t, err)

	snippets := service.NewSnippetService(docstore.New(repo, broker, logger), logger)
	sh := handler.NewSnippetHandler(snippets, logger)
	ah := handler.NewAuthHandler(provider, service.NewAuthService(repo, tokens, logger), false, logger)
	fh := handler.NewFeedHandler(snippets, handler.FeedSettings{
		WriteTimeout: time.Second,
		PingInterval: 50 * time.Millisecond,
		PongWait:     time.Second,
	}, logger)

	r := chi.NewRouter()
	r.Get("/auth/github/login", ah.HandleGitHubLogin)
	r.Get("/auth/github/callback", ah.HandleGitHubCallback)
	r.Post("/auth/logout", ah.HandleLogout)
	r.Get("/api/snippets/{id}", sh.HandleGetByID)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))
		r.Get("/api/me", ah.HandleMe)
		r.Post("/api/tokens", ah.HandleIssueToken)
		r.Get("/api/snippets", sh.HandleList)
		r.Post("/api/snippets", sh.HandleCreate)
		r.Get("/api/snippets/feed", fh.HandleFeed)
		r.Patch("/api/snippets/{id}", sh.HandleUpdate)
		r.Delete("/api/snippets/{id}", sh.HandleDelete)
	})

	return &fixture{router: r, repo: repo, tokens: tokens}
}

// user registers a user and returns its id and a bearer token.
func (f *fixture) user(t *testing.T, githubID int64, login string) (string, string) {
	t.Helper()
	u := &model.User{GitHubID: githubID, Login: login}
	require.NoError(t, f.repo.Upsert(context.Background(), u))
	token, err := f.tokens.Generate(u.ID)
	require.NoError(t, err)
	return u.ID, token
}

func (f *fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func (f *fixture) create(t *testing.T, token, body string) model.Snippet {
	t.Helper()
	rec := f.do(http.MethodPost, "/api/snippets", token, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[struct {
		ID      string        `json:"id"`
		Snippet model.Snippet `json:"snippet"`
	}](t, rec)
	require.Equal(t, resp.ID, resp.Snippet.ID)
	return resp.Snippet
}

// =========================================================================
// CREATE
// =========================================================================

func TestHandleCreate(t *testing.T) {
	f := newFixture(t, nil)
	userID, token := f.user(t, 1, "ada")

	s := f.create(t, token, `{"title":"  Loop ","content":"for x in y: pass","language":"Python","tags":["loop"," py ","loop"],"clientToken":"01TOKEN"}`)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "Loop", s.Title)
	assert.Equal(t, model.Python, s.Language)
	assert.Equal(t, []string{"loop", "py"}, s.Tags)
	assert.Equal(t, userID, s.UserID)
	assert.Equal(t, "01TOKEN", s.ClientToken)
	assert.WithinDuration(t, time.Now(), s.Date, time.Minute)
}

func TestHandleCreate_KeepsGivenDate(t *testing.T) {
	f := newFixture(t, nil)
	_, token := f.user(t, 1, "ada")

	s := f.create(t, token, `{"title":"t","content":"c","language":"css","tags":[],"date":"2024-05-15T10:00:00.123456Z"}`)
	assert.True(t, s.Date.Equal(time.Date(2024, 5, 15, 10, 0, 0, 123000000, time.UTC)), s.Date)
}

func TestHandleCreate_Errors(t *testing.T) {
	f := newFixture(t, nil)
	_, token := f.user(t, 1, "ada")

	tests := []struct {
		name      string
		token     string
		body      string
		wantCode  int
		wantError string
		wantField string
	}{
		{"no token", "", `{"title":"t","content":"c","language":"css"}`, http.StatusUnauthorized, "unauthorized", ""},
		{"bad token", "garbage", `{"title":"t","content":"c","language":"css"}`, http.StatusUnauthorized, "unauthorized", ""},
		{"malformed JSON", token, `{"title":`, http.StatusBadRequest, "validation_error", "body"},
		{"unknown field", token, `{"title":"t","content":"c","language":"css","owner":"x"}`, http.StatusBadRequest, "validation_error", "body"},
		{"empty title", token, `{"title":"  ","content":"c","language":"css"}`, http.StatusBadRequest, "validation_error", "title"},
		{"empty content", token, `{"title":"t","content":"","language":"css"}`, http.StatusBadRequest, "validation_error", "content"},
		{"bad language", token, `{"title":"t","content":"c","language":"cobol"}`, http.StatusBadRequest, "validation_error", "language"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/snippets", tt.token, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			resp := decode[handler.ErrorResponse](t, rec)
			assert.Equal(t, tt.wantError, resp.Error)
			assert.Equal(t, tt.wantField, resp.Field)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

// =========================================================================
// READ
// =========================================================================

func TestHandleList(t *testing.T) {
	f := newFixture(t, nil)
	_, ada := f.user(t, 1, "ada")
	_, bob := f.user(t, 2, "bob")

	older := f.create(t, ada, `{"title":"old","content":"c","language":"css","date":"2024-01-01T00:00:00Z"}`)
	newer := f.create(t, ada, `{"title":"new","content":"c","language":"css","date":"2024-06-01T00:00:00Z"}`)
	f.create(t, bob, `{"title":"bob's","content":"c","language":"html"}`)

	rec := f.do(http.MethodGet, "/api/snippets", ada, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]model.Snippet](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	rec = f.do(http.MethodGet, "/api/snippets?limit=1&offset=1", ada, "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[[]model.Snippet](t, rec)
	require.Len(t, page, 1)
	assert.Equal(t, older.ID, page[0].ID)

	rec = f.do(http.MethodGet, "/api/snippets?limit=ten", ada, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "limit", decode[handler.ErrorResponse](t, rec).Field)
}

func TestHandleList_EmptyIsArray(t *testing.T) {
	f := newFixture(t, nil)
	_, token := f.user(t, 1, "ada")

	rec := f.do(http.MethodGet, "/api/snippets", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestHandleGetByID_IsPublic(t *testing.T) {
	f := newFixture(t, nil)
	_, token := f.user(t, 1, "ada")
	s := f.create(t, token, `{"title":"shared","content":"c","language":"javascript"}`)

	rec := f.do(http.MethodGet, "/api/snippets/"+s.ID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.Snippet](t, rec)
	assert.Equal(t, "shared", got.Title)

	rec = f.do(http.MethodGet, "/api/snippets/does-not-exist", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[handler.ErrorResponse](t, rec).Error)

	rec = f.do(http.MethodGet, "/api/snippets/local:01PENDING", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =========================================================================
// UPDATE / DELETE
// =========================================================================

func TestHandleUpdate(t *testing.T) {
	f := newFixture(t, nil)
	_, token := f.user(t, 1, "ada")
	s := f.create(t, token, `{"title":"t","content":"c","language":"css","tags":["a"],"date":"2024-01-01T00:00:00Z"}`)

	rec := f.do(http.MethodPatch, "/api/snippets/"+s.ID, token, `{"title":"renamed","tags":[]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[model.Snippet](t, rec)

	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, "c", got.Content)
	assert.Empty(t, got.Tags)
	assert.True(t, got.Date.Equal(s.Date), "edits keep the date")

	stored, err := f.repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Title)
}

func TestHandleUpdate_Errors(t *testing.T) {
	f := newFixture(t, nil)
	_, ada := f.user(t, 1, "ada")
	_, bob := f.user(t, 2, "bob")
	s := f.create(t, ada, `{"title":"t","content":"c","language":"css"}`)

	tests := []struct {
		name      string
		token     string
		id        string
		body      string
		wantCode  int
		wantError string
	}{
		{"not owner", bob, s.ID, `{"title":"mine"}`, http.StatusForbidden, "forbidden"},
		{"missing", ada, "nope", `{"title":"x"}`, http.StatusNotFound, "not_found"},
		{"empty title", ada, s.ID, `{"title":""}`, http.StatusBadRequest, "validation_error"},
		{"bad language", ada, s.ID, `{"language":"cobol"}`, http.StatusBadRequest, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPatch, "/api/snippets/"+tt.id, tt.token, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantError, decode[handler.ErrorResponse](t, rec).Error)
		})
	}

	stored, err := f.repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "t", stored.Title)
}

func TestHandleDelete(t *testing.T) {
	f := newFixture(t, nil)
	_, ada := f.user(t, 1, "ada")
	_, bob := f.user(t, 2, "bob")
	s := f.create(t, ada, `{"title":"t","content":"c","language":"css"}`)

	rec := f.do(http.MethodDelete, "/api/snippets/"+s.ID, bob, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodDelete, "/api/snippets/"+s.ID, ada, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = f.do(http.MethodDelete, "/api/snippets/"+s.ID, ada, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
