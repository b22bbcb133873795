// Package repository defines the persistence interfaces of the remote
// snippet collection. Implementations live in the sqlite and memory
// subpackages; MongoDB is handled by docstore/mongostore, which talks to its
// driver directly so it can use change streams.
package repository

import (
	"context"

	"github.com/sakif/snippetvault/internal/model"
)

// ListOptions pages a listing. A zero Limit means no limit.
type ListOptions struct {
	Limit  int
	Offset int
}

// SnippetRepository stores snippet documents. Implementations return
// apperror NotFound for missing ids and never check ownership; that is the
// service's job.
type SnippetRepository interface {
	// Create assigns snippet.ID and stores it.
	Create(ctx context.Context, snippet *model.Snippet) error
	GetByID(ctx context.Context, id string) (*model.Snippet, error)
	// ListByUser returns userID's snippets, newest date first.
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]model.Snippet, error)
	// Update applies patch and returns the stored result.
	Update(ctx context.Context, id string, patch model.Patch) (*model.Snippet, error)
	Delete(ctx context.Context, id string) error
}

// UserRepository stores users. Upsert keys on GitHubID and fills in ID and
// timestamps on the passed user.
type UserRepository interface {
	Upsert(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}
