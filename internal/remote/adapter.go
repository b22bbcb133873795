// Package remote defines the contract between the client-side snippet store
// and the remote per-user document collection.
//
// Three implementations exist:
//   - docstore.Collection: repository + in-process change feed (server side, tests)
//   - mongostore.Collection: MongoDB with change streams
//   - httpremote.Client: HTTP + WebSocket client of cmd/server's API
//
// The store only ever sees model.Snippet values. Raw documents are converted
// at this boundary by DecodeDocument, which rejects anything malformed.
package remote

import (
	"context"
	"sync"

	"github.com/sakif/snippetvault/internal/model"
)

// ChangeFunc receives change events for one subscription. Calls for the same
// document arrive in order; there is no ordering across documents.
type ChangeFunc func(Event)

// Unsubscribe releases a subscription. It is idempotent, and once it returns
// the subscription's ChangeFunc is not called again. It must not be called
// from inside that ChangeFunc.
type Unsubscribe func()

// Adapter is the query/subscribe/mutate surface of the remote collection.
type Adapter interface {
	// Subscribe streams added/modified/removed events for every document
	// owned by userID. Existing documents are delivered first as added events.
	Subscribe(ctx context.Context, userID string, onChange ChangeFunc) (Unsubscribe, error)

	// Create stores a new document and returns its authoritative id. The id
	// field of snippet is ignored.
	Create(ctx context.Context, snippet model.Snippet) (string, error)

	// Update applies the fields set in patch. It fails with a NotFound error
	// if id does not exist.
	Update(ctx context.Context, id string, patch model.Patch) error

	Delete(ctx context.Context, id string) error

	// GetByID is a point lookup; it returns an apperror NotFound error when
	// no document has that id.
	GetByID(ctx context.Context, id string) (*model.Snippet, error)
}

// OnceUnsubscribe makes f safe to call more than once.
func OnceUnsubscribe(f func()) Unsubscribe {
	var once sync.Once
	return func() { once.Do(f) }
}
