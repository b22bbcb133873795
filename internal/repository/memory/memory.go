// Package memory implements the repository interfaces in process memory.
// It backs STORE_BACKEND=memory and tests that do not need SQL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/repository"
)

// Compile-time checks that *Repo implements both interfaces.
var (
	_ repository.SnippetRepository = (*Repo)(nil)
	_ repository.UserRepository    = (*Repo)(nil)
)

// Repo keeps snippets and users in maps. It implements both repository
// interfaces and backs STORE_BACKEND=memory.
//
// COPIES IN, COPIES OUT:
// Snippets hold a Tags slice. Storing or returning the caller's value would
// share that slice, and a later append on either side would change the other.
// Every snippet method therefore stores and returns Clone()d values, which is
// what a real database gives you for free.
type Repo struct {
	mu       sync.RWMutex
	snippets map[string]model.Snippet
	users    map[string]model.User
	byGitHub map[int64]string
}

// New returns an empty Repo.
func New() *Repo {
	return &Repo{
		snippets: make(map[string]model.Snippet),
		users:    make(map[string]model.User),
		byGitHub: make(map[int64]string),
	}
}

// Create stores a copy of snippet under a new xid and sets snippet.ID.
func (r *Repo) Create(_ context.Context, snippet *model.Snippet) error {
	snippet.ID = xid.New().String()
	if snippet.Date.IsZero() {
		snippet.Date = model.Now()
	}
	snippet.Date = model.NormalizeDate(snippet.Date)
	snippet.Tags = model.NormalizeTags(snippet.Tags)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snippets[snippet.ID] = snippet.Clone()
	return nil
}

// GetByID returns a copy of the snippet, or NotFound.
func (r *Repo) GetByID(_ context.Context, id string) (*model.Snippet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snippets[id]
	if !ok {
		return nil, apperror.NotFound("snippet", id)
	}
	s = s.Clone()
	return &s, nil
}

// ListByUser returns the user's snippets newest first, paged by opts.
func (r *Repo) ListByUser(_ context.Context, userID string, opts repository.ListOptions) ([]model.Snippet, error) {
	r.mu.RLock()
	list := []model.Snippet{}
	for _, s := range r.snippets {
		if s.UserID == userID {
			list = append(list, s.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.After(list[j].Date)
		}
		return list[i].ID > list[j].ID
	})

	offset := max(opts.Offset, 0)
	if offset >= len(list) {
		return []model.Snippet{}, nil
	}
	list = list[offset:]
	if opts.Limit > 0 && opts.Limit < len(list) {
		list = list[:opts.Limit]
	}
	return list, nil
}

// Update applies patch and returns the updated record.
func (r *Repo) Update(_ context.Context, id string, patch model.Patch) (*model.Snippet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.snippets[id]
	if !ok {
		return nil, apperror.NotFound("snippet", id)
	}
	next := patch.Apply(cur)
	r.snippets[id] = next
	out := next.Clone()
	return &out, nil
}

// Delete removes the snippet, or returns NotFound.
func (r *Repo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.snippets[id]; !ok {
		return apperror.NotFound("snippet", id)
	}
	delete(r.snippets, id)
	return nil
}

// Upsert keeps the internal id and creation time of a returning GitHub user.
func (r *Repo) Upsert(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if id, ok := r.byGitHub[user.GitHubID]; ok {
		existing := r.users[id]
		existing.Login = user.Login
		existing.Email = user.Email
		existing.AvatarURL = user.AvatarURL
		existing.UpdatedAt = now
		r.users[id] = existing
		*user = existing
		return nil
	}

	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = *user
	r.byGitHub[user.GitHubID] = user.ID
	return nil
}

// GetUserByID returns a copy of the user, or NotFound.
func (r *Repo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return &u, nil
}
