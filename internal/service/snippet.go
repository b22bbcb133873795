// Package service holds the server's business rules, between the HTTP
// handlers and the document collection.
//
// THE LAYERS:
//
//	Handler (HTTP)  → parses requests, writes responses
//	Service         → validates, checks ownership, records metrics
//	Collection      → docstore (repository + change feed) or mongostore
//
// The REST handlers and the WebSocket feed both go through SnippetService,
// so a rule written here applies to every way in.
//
// RULES ENFORCED HERE:
//   - every mutation needs a user (AuthRequired)
//   - update and delete need the caller to own the snippet (Forbidden)
//   - drafts and patches are validated before storage (ValidationError)
//   - an update that changes nothing is not written and emits no event
//   - the point lookup is public: share links work for anyone
//   - placeholder ids never reach storage; they are NotFound
//
// DEPENDENCY INJECTION:
// SnippetService takes the Collection interface, not a concrete store.
// cmd/server decides between sqlite, memory and MongoDB; tests pass a fake
// (see snippet_test.go). The service imports none of them.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/metrics"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/remote"
	"github.com/sakif/snippetvault/internal/repository"
)

// MaxListLimit caps one page of GET /api/snippets. A zero limit returns
// every snippet of the user, which is what a client mirror needs.
const MaxListLimit = 500

// Collection is the per-user document collection the service writes to.
// docstore.Collection and mongostore.Collection implement it.
type Collection interface {
	remote.Adapter
	ListByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Snippet, error)
}

// SnippetService applies the snippet rules on top of a Collection.
//
// STRUCT FIELDS:
//   - coll: the document collection (injected)
//   - metrics: optional; nil-safe, so tests can leave it out
//   - now: the clock, replaceable with WithClock
type SnippetService struct {
	coll    Collection
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option customizes a SnippetService.
type Option func(*SnippetService)

// WithMetrics records one mutation counter per create, update and delete.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SnippetService) { s.metrics = m }
}

// WithClock replaces time.Now for creation dates.
func WithClock(now func() time.Time) Option {
	return func(s *SnippetService) { s.now = now }
}

// NewSnippetService creates a SnippetService.
//
// CONSTRUCTOR PATTERN:
// Every dependency is a parameter and optional ones are functional options,
// so the caller decides which collection, logger and metrics are used.
func NewSnippetService(coll Collection, logger *slog.Logger, opts ...Option) *SnippetService {
	s := &SnippetService{
		coll:   coll,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates draft and stores it for userID. A zero draft date becomes
// the creation time. clientToken is stored verbatim and echoed on the change
// feed so the creating client can match its placeholder.
func (s *SnippetService) Create(ctx context.Context, userID string, draft model.Draft, clientToken string) (_ *model.Snippet, err error) {
	defer func() { s.metrics.RecordMutation("create", err) }()

	if userID == "" {
		return nil, apperror.AuthRequired()
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	snippet := draft.Snippet(userID, s.now())
	snippet.ClientToken = strings.TrimSpace(clientToken)

	id, err := s.coll.Create(ctx, snippet)
	if err != nil {
		s.logger.Error("failed to create snippet",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating snippet: %w", err)
	}
	snippet.ID = id

	s.logger.Info("snippet created",
		slog.String("id", id),
		slog.String("user_id", userID),
		slog.String("language", snippet.Language.String()),
	)
	return &snippet, nil
}

// GetByID is the public point lookup behind deep links. It needs no user.
func (s *SnippetService) GetByID(ctx context.Context, id string) (*model.Snippet, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "snippet ID is required")
	}
	if strings.HasPrefix(id, model.PlaceholderPrefix) {
		return nil, apperror.NotFound("snippet", id)
	}
	// NotFound is a normal answer here; only storage failures get logged.
	return s.coll.GetByID(ctx, id)
}

// List returns the user's snippets newest first. A non-positive limit means
// all of them; larger limits are clamped to MaxListLimit.
func (s *SnippetService) List(ctx context.Context, userID string, limit, offset int) ([]model.Snippet, error) {
	if userID == "" {
		return nil, apperror.AuthRequired()
	}
	if limit < 0 {
		limit = 0
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	snippets, err := s.coll.ListByUser(ctx, userID, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("failed to list snippets",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("listing snippets: %w", err)
	}
	return snippets, nil
}

// Update applies patch to a snippet owned by userID and returns the stored
// result. Fields the patch leaves nil keep their value, the date included.
func (s *SnippetService) Update(ctx context.Context, userID, id string, patch model.Patch) (_ *model.Snippet, err error) {
	defer func() { s.metrics.RecordMutation("update", err) }()

	existing, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	diff := patch.Diff(*existing)
	if diff.IsEmpty() {
		return existing, nil
	}

	if err := s.coll.Update(ctx, existing.ID, diff); err != nil {
		s.logger.Error("failed to update snippet",
			slog.String("id", existing.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating snippet: %w", err)
	}

	s.logger.Info("snippet updated",
		slog.String("id", existing.ID),
		slog.Any("fields", diff.Fields()),
	)
	updated := diff.Apply(*existing)
	return &updated, nil
}

// Delete removes a snippet owned by userID.
func (s *SnippetService) Delete(ctx context.Context, userID, id string) (err error) {
	defer func() { s.metrics.RecordMutation("delete", err) }()

	existing, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.coll.Delete(ctx, existing.ID); err != nil {
		return fmt.Errorf("deleting snippet: %w", err)
	}

	s.logger.Info("snippet deleted",
		slog.String("id", existing.ID),
		slog.String("user_id", userID),
	)
	return nil
}

// Subscribe opens userID's change feed: current snippets as added events,
// then live changes.
func (s *SnippetService) Subscribe(ctx context.Context, userID string, onChange remote.ChangeFunc) (remote.Unsubscribe, error) {
	if userID == "" {
		return nil, apperror.AuthRequired()
	}
	return s.coll.Subscribe(ctx, userID, onChange)
}

// owned fetches id and checks that userID owns it.
func (s *SnippetService) owned(ctx context.Context, userID, id string) (*model.Snippet, error) {
	if userID == "" {
		return nil, apperror.AuthRequired()
	}
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.UserID != userID {
		s.logger.Warn("snippet ownership check failed",
			slog.String("id", existing.ID),
			slog.String("user_id", userID),
		)
		return nil, apperror.Forbidden("you do not own this snippet")
	}
	return existing, nil
}
