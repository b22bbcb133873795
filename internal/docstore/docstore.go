// Package docstore exposes a snippet repository as a remote document
// collection: every successful write is published on the change feed of the
// document's owner.
//
// WHY A SEPARATE LAYER?
// The repository packages only store rows. They know nothing about who is
// listening. Collection adds the second half of the remote contract: a write
// is not done until its change event is on the owner's topic. Because the
// event is published after the write returns, a subscriber that took its
// snapshot first will see the event, and one that took it later sees the
// write in the snapshot (and may see the event too, which is harmless).
//
// USED BY:
//   - cmd/server, when STORE_BACKEND is memory or sqlite
//   - the tests of store, coordinator and session, over memory.Repo
package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/changefeed"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/remote"
	"github.com/sakif/snippetvault/internal/repository"
)

var _ remote.Adapter = (*Collection)(nil)

// Collection is the in-process remote collection: writes go to repo, then a
// change event goes to the owner's feed.
type Collection struct {
	repo      repository.SnippetRepository
	feed      *changefeed.Broker
	publisher changefeed.Publisher
	logger    *slog.Logger
}

// Option customizes a Collection.
type Option func(*Collection)

// WithPublisher routes change events through p instead of straight to the
// broker, e.g. a changefeed.RedisRelay wrapping it.
func WithPublisher(p changefeed.Publisher) Option {
	return func(c *Collection) { c.publisher = p }
}

// New returns a Collection over repo publishing to feed.
func New(repo repository.SnippetRepository, feed *changefeed.Broker, logger *slog.Logger, opts ...Option) *Collection {
	c := &Collection{
		repo:      repo,
		feed:      feed,
		publisher: feed,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe delivers the user's documents oldest first, then live changes.
func (c *Collection) Subscribe(ctx context.Context, userID string, onChange remote.ChangeFunc) (remote.Unsubscribe, error) {
	if userID == "" {
		return nil, apperror.AuthRequired()
	}
	unsub, err := c.feed.Subscribe(userID, onChange, func() ([]remote.Event, error) {
		list, err := c.repo.ListByUser(ctx, userID, repository.ListOptions{})
		if err != nil {
			return nil, err
		}
		slices.Reverse(list)
		events := make([]remote.Event, 0, len(list))
		for _, s := range list {
			events = append(events, remote.AddedEvent(s))
		}
		return events, nil
	})
	if err != nil {
		return nil, fmt.Errorf("docstore: subscribing %s: %w", userID, err)
	}
	return unsub, nil
}

// ListByUser returns the user's documents newest first.
func (c *Collection) ListByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Snippet, error) {
	return c.repo.ListByUser(ctx, userID, opts)
}

// Create stores snippet under a fresh id and publishes an added event. Any
// id on snippet is ignored.
func (c *Collection) Create(ctx context.Context, snippet model.Snippet) (string, error) {
	if snippet.UserID == "" {
		return "", apperror.ValidationFailed("userId", "snippet owner is required")
	}
	snippet.ID = ""
	if err := c.repo.Create(ctx, &snippet); err != nil {
		return "", err
	}

	c.publisher.Publish(snippet.UserID, remote.AddedEvent(snippet))
	c.logger.Debug("document created",
		slog.String("id", snippet.ID),
		slog.String("user_id", snippet.UserID),
	)
	return snippet.ID, nil
}

// Update applies patch and publishes the full record as a modified event.
func (c *Collection) Update(ctx context.Context, id string, patch model.Patch) error {
	updated, err := c.repo.Update(ctx, id, patch)
	if err != nil {
		return err
	}
	c.publisher.Publish(updated.UserID, remote.ModifiedEvent(*updated))
	return nil
}

// Delete looks the document up first: the removed event goes to its owner.
func (c *Collection) Delete(ctx context.Context, id string) error {
	existing, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := c.repo.Delete(ctx, id); err != nil {
		return err
	}
	c.publisher.Publish(existing.UserID, remote.RemovedEvent(id))
	return nil
}

// GetByID is the point lookup; it does not check the owner.
func (c *Collection) GetByID(ctx context.Context, id string) (*model.Snippet, error) {
	return c.repo.GetByID(ctx, id)
}
