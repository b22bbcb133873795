// Package handler is the HTTP layer: it parses requests, calls a service and
// writes the response.
//
// WHAT A HANDLER DOES (AND DOES NOT):
//
//	read URL params, query and JSON body    → handler
//	validation, ownership, storage          → service
//	status codes and the error JSON shape   → handler (response.go)
//
// A handler never talks to a repository or the change feed directly. That
// keeps the REST endpoints and the WebSocket feed on exactly the same rules
// as any other caller of the service.
//
// ROUTES (mounted in internal/server):
//
//	GET    /api/snippets/{id}   public point lookup for share links
//	GET    /api/snippets        caller's snippets          (auth)
//	POST   /api/snippets        create, 201 {"id":...}     (auth)
//	PATCH  /api/snippets/{id}   partial update             (auth)
//	DELETE /api/snippets/{id}   204                        (auth)
//	GET    /api/snippets/feed   WebSocket change feed      (auth)
//	GET    /auth/github/login, /auth/github/callback, POST /auth/logout
//	GET    /api/me, POST /api/tokens                       (auth)
//
// USER IDENTITY:
// Authenticated handlers read the user id that auth.RequireAuth put in the
// request context. They never take it from the body or the URL.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/auth"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/service"
)

// SnippetHandler serves the snippet CRUD endpoints. It only translates
// between HTTP and the service; validation and ownership live in
// service.SnippetService.
type SnippetHandler struct {
	snippets *service.SnippetService
	logger   *slog.Logger
}

// NewSnippetHandler returns a SnippetHandler calling snippets.
func NewSnippetHandler(snippets *service.SnippetService, logger *slog.Logger) *SnippetHandler {
	return &SnippetHandler{snippets: snippets, logger: logger}
}

// createRequest is the body of POST /api/snippets. ClientToken is the
// creating client's correlation token; it comes back on the change feed.
type createRequest struct {
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Language    model.Language `json:"language"`
	Tags        []string       `json:"tags"`
	Date        *time.Time     `json:"date,omitempty"`
	ClientToken string         `json:"clientToken,omitempty"`
}

type createResponse struct {
	ID      string         `json:"id"`
	Snippet *model.Snippet `json:"snippet"`
}

// HandleList returns the caller's snippets, newest first.
//
// HTTP: GET /api/snippets?limit=20&offset=40
//
// Without limit every snippet is returned.
func (h *SnippetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	snippets, err := h.snippets.List(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snippets)
}

// HandleGetByID is the deep-link lookup.
//
// HTTP: GET /api/snippets/{id}
//
// It is public: anyone holding a share link can read the snippet.
func (h *SnippetHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	snippet, err := h.snippets.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

// HandleCreate stores a new snippet for the caller.
//
// HTTP: POST /api/snippets → 201 {"id": "...", "snippet": {...}}
func (h *SnippetHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("invalid snippet JSON", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	draft := model.Draft{
		Title:    req.Title,
		Content:  req.Content,
		Language: req.Language,
		Tags:     req.Tags,
	}
	if req.Date != nil {
		draft.Date = *req.Date
	}

	snippet, err := h.snippets.Create(r.Context(), userID, draft, req.ClientToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{ID: snippet.ID, Snippet: snippet})
}

// HandleUpdate applies a partial edit. Absent fields stay unchanged;
// "tags": [] clears the tags.
//
// HTTP: PATCH /api/snippets/{id}
func (h *SnippetHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var patch model.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}

	snippet, err := h.snippets.Update(r.Context(), userID, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

// HandleDelete removes one of the caller's snippets.
//
// HTTP: DELETE /api/snippets/{id} → 204
func (h *SnippetHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := h.snippets.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(key, key+" must be an integer")
	}
	return n, nil
}
