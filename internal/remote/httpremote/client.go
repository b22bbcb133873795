// Package httpremote is the remote collection as seen from outside the
// server: REST calls for queries and mutations, a WebSocket for the change
// feed. It lets cmd/snippetctl run the client core against cmd/server.
//
// Every document coming back over the wire goes through
// remote.DecodeDocument or remote.DecodeEvent before anyone else sees it.
//
// ERRORS:
// The server answers failures with a JSON ErrorResponse. decodeError maps
// its error code back to the apperror kind, so callers check errors the same
// way whether the collection is local or remote.
//
// RECONNECTING:
// The feed goroutine redials with backoff when the WebSocket drops. Each new
// connection starts by replaying the user's documents as added events, which
// the store reconciles like any other echo, and deletes missed while the
// socket was down are found by listing (see Subscribe in feed.go).
package httpremote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/remote"
)

var _ remote.Adapter = (*Client)(nil)

// Settings are the feed timings. Reconnects back off from ReconnectMin,
// doubling up to ReconnectMax.
type Settings struct {
	RequestTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
}

// DefaultSettings matches the server's default feed timings.
func DefaultSettings() Settings {
	return Settings{
		RequestTimeout: 15 * time.Second,
		ReadTimeout:    90 * time.Second, // three server ping intervals
		WriteTimeout:   10 * time.Second,
		ReconnectMin:   500 * time.Millisecond,
		ReconnectMax:   30 * time.Second,
	}
}

// Client talks to one cmd/server as one user, identified by a bearer token.
// It implements remote.Adapter, so the store and the coordinator use it like
// any other collection.
type Client struct {
	base     *url.URL
	token    string
	http     *http.Client
	dialer   *websocket.Dialer
	settings Settings
	logger   *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithSettings replaces DefaultSettings.
func WithSettings(s Settings) Option {
	return func(c *Client) { c.settings = s }
}

// WithHTTPClient replaces the client used for REST calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New returns a client of the server at baseURL that authenticates with the
// bearer token.
func New(baseURL, token string, logger *slog.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("httpremote: invalid server URL %q", baseURL)
	}

	c := &Client{
		base:     base,
		token:    token,
		settings: DefaultSettings(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.settings.RequestTimeout}
	}
	c.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.settings.RequestTimeout,
	}
	return c, nil
}

// Me returns the user the token was issued to.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, http.StatusOK, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// List returns all of the caller's snippets, newest first. Malformed
// documents are skipped.
func (c *Client) List(ctx context.Context) ([]model.Snippet, error) {
	var docs []remote.Document
	if err := c.do(ctx, http.MethodGet, "/api/snippets", nil, http.StatusOK, &docs); err != nil {
		return nil, err
	}
	list := make([]model.Snippet, 0, len(docs))
	for _, doc := range docs {
		id, _ := doc["id"].(string)
		s, err := remote.DecodeDocument(id, doc)
		if err != nil {
			c.logger.Warn("dropping malformed snippet",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		list = append(list, s)
	}
	return list, nil
}

type createBody struct {
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Language    model.Language `json:"language"`
	Tags        []string       `json:"tags"`
	Date        *time.Time     `json:"date,omitempty"`
	ClientToken string         `json:"clientToken,omitempty"`
}

// Create posts snippet, including its correlation token, and returns the id
// the server assigned.
func (c *Client) Create(ctx context.Context, snippet model.Snippet) (string, error) {
	body := createBody{
		Title:       snippet.Title,
		Content:     snippet.Content,
		Language:    snippet.Language,
		Tags:        snippet.Tags,
		ClientToken: snippet.ClientToken,
	}
	if !snippet.Date.IsZero() {
		body.Date = &snippet.Date
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/snippets", body, http.StatusCreated, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("httpremote: create response without id")
	}
	return resp.ID, nil
}

// Update sends patch as PATCH /api/snippets/{id}.
func (c *Client) Update(ctx context.Context, id string, patch model.Patch) error {
	return c.do(ctx, http.MethodPatch, "/api/snippets/"+url.PathEscape(id), patch, http.StatusOK, nil)
}

// Delete sends DELETE /api/snippets/{id}.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/snippets/"+url.PathEscape(id), nil, http.StatusNoContent, nil)
}

// GetByID uses the public point lookup, so it also finds other users' snippets.
func (c *Client) GetByID(ctx context.Context, id string) (*model.Snippet, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperror.ValidationFailed("id", "snippet id is required")
	}
	var doc remote.Document
	if err := c.do(ctx, http.MethodGet, "/api/snippets/"+url.PathEscape(id), nil, http.StatusOK, &doc); err != nil {
		return nil, err
	}
	s, err := remote.DecodeDocument(id, doc)
	if err != nil {
		return nil, fmt.Errorf("httpremote: snippet %s: %w", id, err)
	}
	return &s, nil
}

// do sends one JSON request and decodes the answer into out when the status
// is want. Any other status is turned back into an apperror kind.
func (c *Client) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("httpremote: encoding %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint("http", path), body)
	if err != nil {
		return fmt.Errorf("httpremote: building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("httpremote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("httpremote: decoding %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

// endpoint resolves path against the base URL; scheme "ws" switches
// http(s) to ws(s).
func (c *Client) endpoint(scheme, path string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if scheme == "ws" {
		if u.Scheme == "https" {
			u.Scheme = "wss"
		} else {
			u.Scheme = "ws"
		}
	}
	return u.String()
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

// decodeError maps the server's error JSON to the matching apperror kind.
func decodeError(resp *http.Response) error {
	var body errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return fmt.Errorf("httpremote: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var kind error
	switch body.Error {
	case "validation_error":
		kind = apperror.ErrValidation
	case "not_found":
		kind = apperror.ErrNotFound
	case "forbidden":
		kind = apperror.ErrForbidden
	case "unauthorized":
		kind = apperror.ErrAuthRequired
	case "conflict":
		kind = apperror.ErrConflict
	default:
		return fmt.Errorf("httpremote: server error %d: %s", resp.StatusCode, body.Message)
	}
	return &apperror.AppError{Err: kind, Message: body.Message, Field: body.Field}
}
