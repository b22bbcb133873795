// Package remotetest provides an in-memory remote.Adapter for tests.
//
// Fake behaves like the real collection: mutations are echoed to every
// subscriber of the document's owner. Hooks let a test delay or fail a
// mutation before it is applied, and Push injects arbitrary events.
package remotetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/remote"
)

// Hooks run before a mutation is applied. A non-nil error fails the mutation
// and leaves the collection untouched. Hooks may block.
type Hooks struct {
	Create func(ctx context.Context, s model.Snippet) error
	Update func(ctx context.Context, id string, patch model.Patch) error
	Delete func(ctx context.Context, id string) error
}

type subscriber struct {
	userID string
	fn     remote.ChangeFunc
}

// Fake is an in-memory remote.Adapter. It assigns ids doc-1, doc-2, ...
type Fake struct {
	mu      sync.Mutex
	docs    map[string]model.Snippet
	nextID  int
	subs    map[int]*subscriber
	nextSub int
	hooks   Hooks
	calls   []string

	// deliverMu orders deliveries against unsubscribe
	deliverMu sync.Mutex
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		docs: make(map[string]model.Snippet),
		subs: make(map[int]*subscriber),
	}
}

// SetHooks replaces the mutation hooks.
func (f *Fake) SetHooks(h Hooks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = h
}

// Seed stores s without notifying anyone. s.ID must be set.
func (f *Fake) Seed(s model.Snippet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[s.ID] = s.Clone()
}

// Doc returns the stored document.
func (f *Fake) Doc(id string) (model.Snippet, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.docs[id]
	return s.Clone(), ok
}

// Len counts stored documents.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

// Calls lists the mutations that reached the collection, e.g. "update doc-1
// [title]", in the order they were applied.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Subscribers counts live subscriptions.
func (f *Fake) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Subscribe replays userID's documents as added events, then pushes live ones.
func (f *Fake) Subscribe(_ context.Context, userID string, onChange remote.ChangeFunc) (remote.Unsubscribe, error) {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = &subscriber{userID: userID, fn: onChange}
	var initial []model.Snippet
	for _, s := range f.docs {
		if s.UserID == userID {
			initial = append(initial, s.Clone())
		}
	}
	f.mu.Unlock()

	for _, s := range initial {
		onChange(remote.AddedEvent(s))
	}

	return remote.OnceUnsubscribe(func() {
		f.deliverMu.Lock()
		defer f.deliverMu.Unlock()
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}), nil
}

// Push delivers ev to every subscriber of userID.
func (f *Fake) Push(userID string, ev remote.Event) {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	f.mu.Lock()
	var targets []remote.ChangeFunc
	for _, s := range f.subs {
		if s.userID == userID {
			targets = append(targets, s.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range targets {
		fn(ev)
	}
}

// Create runs the hook, stores s under the next id and echoes an added event.
func (f *Fake) Create(ctx context.Context, s model.Snippet) (string, error) {
	f.mu.Lock()
	hook := f.hooks.Create
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, s); err != nil {
			return "", err
		}
	}

	f.mu.Lock()
	f.nextID++
	s = s.Clone()
	s.ID = fmt.Sprintf("doc-%d", f.nextID)
	f.docs[s.ID] = s
	f.calls = append(f.calls, "create "+s.ID)
	f.mu.Unlock()

	f.Push(s.UserID, remote.AddedEvent(s))
	return s.ID, nil
}

// Update runs the hook, applies patch and echoes a modified event.
func (f *Fake) Update(ctx context.Context, id string, patch model.Patch) error {
	f.mu.Lock()
	hook := f.hooks.Update
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, id, patch); err != nil {
			return err
		}
	}

	f.mu.Lock()
	cur, ok := f.docs[id]
	if !ok {
		f.mu.Unlock()
		return apperror.NotFound("snippet", id)
	}
	next := patch.Apply(cur)
	f.docs[id] = next
	f.calls = append(f.calls, fmt.Sprintf("update %s %v", id, patch.Fields()))
	f.mu.Unlock()

	f.Push(next.UserID, remote.ModifiedEvent(next))
	return nil
}

// Delete runs the hook, removes id and echoes a removed event.
func (f *Fake) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	hook := f.hooks.Delete
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, id); err != nil {
			return err
		}
	}

	f.mu.Lock()
	cur, ok := f.docs[id]
	if !ok {
		f.mu.Unlock()
		return apperror.NotFound("snippet", id)
	}
	delete(f.docs, id)
	f.calls = append(f.calls, "delete "+id)
	f.mu.Unlock()

	f.Push(cur.UserID, remote.RemovedEvent(id))
	return nil
}

// GetByID ignores ownership, like the real point lookup.
func (f *Fake) GetByID(_ context.Context, id string) (*model.Snippet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.docs[id]
	if !ok {
		return nil, apperror.NotFound("snippet", id)
	}
	s = s.Clone()
	return &s, nil
}

// Gate is a hook helper that blocks each call until Release or ctx is done.
type Gate struct {
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

// NewGate returns a closed gate.
func NewGate() *Gate {
	return &Gate{release: make(chan struct{}), entered: make(chan struct{}, 64)}
}

// Wait blocks the caller; use it inside a hook.
func (g *Gate) Wait(ctx context.Context) error {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entered receives once per call that reached Wait.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

// Release unblocks every current and future Wait.
func (g *Gate) Release() { g.once.Do(func() { close(g.release) }) }
