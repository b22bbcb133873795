// Package coordinator turns user intents (create, update, delete) into an
// optimistic change to the store plus a request to the remote collection,
// and rolls the change back when the request fails.
//
// LIFE OF A MUTATION:
//
//	1. validate          → ValidationError, no network call
//	2. precheck          → AuthRequired / NotFound / Forbidden from the store
//	3. begin (optimistic) → the store shows the result immediately
//	4. send              → adapter.Create / Update / Delete
//	5. commit or abort   → keep the optimistic state, or restore the old one
//
// The caller gets a *Completion right after step 2 and can wait on it. An
// expected failure is always reported through the Completion, never by a
// panic.
//
// LANES:
// Mutations of the same snippet run strictly one after another. Each id has
// a lane: a chain of done channels where every mutation waits for the one
// before it. A queued mutation runs its begin step only when its turn comes,
// so its diff is computed against the state the previous mutation left.
// Mutations of different snippets are not ordered.
//
// PLACEHOLDERS:
// A created snippet is shown under a placeholder id (local:<token>) until
// the remote collection assigns the real id. Mutations addressed to the
// placeholder queue on the placeholder's lane; when the create returns, that
// lane is re-keyed under the real id (alias). The change feed may re-key the
// record in the store before that (the echo can beat the response), so while
// a create is in flight the lane is also found from the record's
// correlation token. Either id then reaches the same lane.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/remote"
	"github.com/sakif/snippetvault/internal/store"
)

// Coordinator runs optimistic mutations against one Store. It is safe for
// concurrent use.
type Coordinator struct {
	store   *store.Store
	adapter remote.Adapter
	logger  *slog.Logger
	now     func() time.Time
	token   func() string

	mu       sync.Mutex
	tails    map[string]chan struct{} // lane id -> done channel of its last mutation
	aliases  map[string]string        // placeholder id -> authoritative id
	creating map[string]string        // correlation token -> placeholder, while the create is in flight
	running  sync.WaitGroup
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now for creation dates.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithTokens replaces the ULID correlation token generator.
func WithTokens(next func() string) Option {
	return func(c *Coordinator) { c.token = next }
}

// New returns a Coordinator that mutates s and sends requests to adapter.
// The store and the adapter must be the same pair the store subscribes
// through, or echoes will never match.
func New(s *store.Store, adapter remote.Adapter, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    s,
		adapter:  adapter,
		logger:   logger,
		now:      model.Now,
		token:    func() string { return ulid.Make().String() },
		tails:    make(map[string]chan struct{}),
		aliases:  make(map[string]string),
		creating: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create validates draft, shows it immediately under a placeholder id and
// asks the remote collection to store it. On success the placeholder becomes
// the authoritative record; on failure it disappears again.
//
// CORRELATION TOKEN:
// Every create carries a fresh ULID as ClientToken. The remote collection
// stores it with the record, so the echo on the change feed can be matched
// to the placeholder even when it arrives before Create returns the id.
func (c *Coordinator) Create(ctx context.Context, draft model.Draft) *Completion {
	// === VALIDATE ===
	draft = draft.Normalize()
	if err := draft.Validate(); err != nil {
		return resolved("", err)
	}
	userID := c.store.UserID()
	if userID == "" {
		return resolved("", apperror.AuthRequired())
	}

	// === SHOW OPTIMISTICALLY ===
	token := c.token()
	snippet := draft.Snippet(userID, c.now())
	snippet.ClientToken = token

	ticket, err := c.store.BeginCreate(token, snippet)
	if err != nil {
		return resolved("", err)
	}
	placeholder := ticket.ID()
	comp := newCompletion(placeholder)

	c.mu.Lock()
	c.creating[token] = placeholder
	c.mu.Unlock()

	// === SEND ===
	// begin has nothing left to do: the placeholder is already visible.
	c.enqueue(placeholder, func() bool { return true }, func() {
		id, err := c.adapter.Create(ctx, snippet)
		if err != nil {
			c.mu.Lock()
			delete(c.creating, token)
			c.mu.Unlock()
			c.store.AbortCreate(ticket)
			c.logger.Warn("create failed, placeholder removed",
				slog.String("placeholder", placeholder),
				slog.String("error", err.Error()),
			)
			comp.resolve(apperror.RemoteFailure("create", "", err))
			return
		}

		c.store.CommitCreate(ticket, id)
		c.alias(token, placeholder, id)
		comp.setID(id)
		c.logger.Debug("snippet created", slog.String("id", id), slog.String("placeholder", placeholder))
		comp.resolve(nil)
	})
	return comp
}

// Update applies patch locally and sends only the fields that actually
// change. A patch that changes nothing resolves without a remote call.
//
// The diff is computed in begin, not here: a queued update must compare
// against what the mutations before it left behind, not against the state
// at call time.
func (c *Coordinator) Update(ctx context.Context, id string, patch model.Patch) *Completion {
	patch = patch.Normalize()
	if err := patch.Validate(); err != nil {
		return resolved(id, err)
	}
	target, err := c.precheck(id)
	if err != nil {
		return resolved(id, err)
	}
	comp := newCompletion(target)

	var (
		cur    string
		ticket store.Ticket
		diff   model.Patch
	)
	begin := func() bool {
		cur = c.resolve(target)
		comp.setID(cur)

		var err error
		ticket, diff, err = c.store.BeginUpdate(cur, patch)
		if err != nil {
			comp.resolve(err)
			return false
		}
		if diff.IsEmpty() {
			comp.resolve(nil)
			return false
		}
		return true
	}
	send := func() {
		if err := c.adapter.Update(ctx, cur, diff); err != nil {
			c.store.AbortUpdate(ticket)
			c.logger.Warn("update failed, rolled back",
				slog.String("id", cur),
				slog.String("error", err.Error()),
			)
			comp.resolve(apperror.RemoteFailure("update", cur, err))
			return
		}
		c.store.CommitUpdate(ticket)
		c.logger.Debug("snippet updated", slog.String("id", cur), slog.Any("fields", diff.Fields()))
		comp.resolve(nil)
	}

	c.enqueue(target, begin, send)
	return comp
}

// Delete hides the snippet immediately and removes it remotely. On failure
// the snippet reappears.
func (c *Coordinator) Delete(ctx context.Context, id string) *Completion {
	target, err := c.precheck(id)
	if err != nil {
		return resolved(id, err)
	}
	comp := newCompletion(target)

	var (
		cur    string
		ticket store.Ticket
	)
	begin := func() bool {
		cur = c.resolve(target)
		comp.setID(cur)

		var err error
		ticket, err = c.store.BeginDelete(cur)
		if err != nil {
			comp.resolve(err)
			return false
		}
		return true
	}
	send := func() {
		if err := c.adapter.Delete(ctx, cur); err != nil {
			c.store.AbortDelete(ticket)
			c.logger.Warn("delete failed, snippet restored",
				slog.String("id", cur),
				slog.String("error", err.Error()),
			)
			comp.resolve(apperror.RemoteFailure("delete", cur, err))
			return
		}
		c.store.CommitDelete(ticket)
		c.logger.Debug("snippet deleted", slog.String("id", cur))
		comp.resolve(nil)
	}

	c.enqueue(target, begin, send)
	return comp
}

// GetByID looks id up in the remote collection directly, regardless of the
// store's filters or subscription. Deep links resolve through here.
func (c *Coordinator) GetByID(ctx context.Context, id string) (*model.Snippet, error) {
	id = c.resolve(id)
	if id == "" || model.IsPlaceholder(id) {
		return nil, apperror.NotFound("snippet", id)
	}
	s, err := c.adapter.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, apperror.RemoteFailure("get", id, err)
	}
	return s, nil
}

// Wait blocks until every mutation started so far has resolved.
func (c *Coordinator) Wait() {
	c.running.Wait()
}

// precheck applies the checks shared by update and delete against the
// current store contents and returns the id the mutation targets.
//
// An id the store does not show is still accepted while its lane is busy:
// the record may be hidden by a pending delete or not yet keyed under its
// final id. The mutation then queues, and its begin step re-checks the store
// once the earlier mutations have resolved.
func (c *Coordinator) precheck(id string) (string, error) {
	userID := c.store.UserID()
	if userID == "" {
		return "", apperror.AuthRequired()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.resolveLocked(id)
	s, ok := c.store.Get(target)
	if !ok {
		if _, busy := c.tails[c.laneLocked(target)]; busy {
			return target, nil
		}
		return "", apperror.NotFound("snippet", id)
	}
	if s.UserID != userID {
		return "", apperror.Forbidden("you do not own this snippet")
	}
	return target, nil
}

// enqueue runs begin, then send, after every earlier mutation of the same
// lane. begin applies the optimistic effect and reports whether there is
// anything to send. On an idle lane begin runs before enqueue returns.
func (c *Coordinator) enqueue(id string, begin func() bool, send func()) {
	// === JOIN THE LANE ===
	c.mu.Lock()
	key := c.laneLocked(id)
	prev := c.tails[key]
	done := make(chan struct{})
	c.tails[key] = done
	c.running.Add(1)
	c.mu.Unlock()

	finish := func() {
		close(done)
		c.release(key, done)
		c.running.Done()
	}

	// === IDLE LANE: begin now, send in the background ===
	// Running begin synchronously means the caller sees the optimistic state
	// as soon as the mutation method returns.
	if prev == nil {
		if !begin() {
			finish()
			return
		}
		go func() {
			defer finish()
			send()
		}()
		return
	}

	// === BUSY LANE: wait for the previous mutation ===
	go func() {
		defer finish()
		<-prev
		if begin() {
			send()
		}
	}()
}

// laneLocked returns the lane key for id. A record whose create is still in
// flight keeps using the placeholder's lane even after its echo has re-keyed
// it in the store, so mutations addressed to the authoritative id queue
// behind the ones addressed to the placeholder.
func (c *Coordinator) laneLocked(id string) string {
	key := c.resolveLocked(id)
	if model.IsPlaceholder(key) {
		return key
	}
	if s, ok := c.store.Get(key); ok && s.ClientToken != "" {
		if placeholder, pending := c.creating[s.ClientToken]; pending {
			return placeholder
		}
	}
	return key
}

// release forgets the lane once its last mutation is done.
func (c *Coordinator) release(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range []string{key, c.resolveLocked(key)} {
		if c.tails[k] == done {
			delete(c.tails, k)
		}
	}
}

// alias routes the placeholder's lane, and any later mutation addressed to
// the placeholder, to the authoritative id. The create is no longer in
// flight afterwards.
func (c *Coordinator) alias(token, placeholder, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.creating, token)
	c.aliases[placeholder] = id
	tail, ok := c.tails[placeholder]
	if !ok {
		return
	}
	delete(c.tails, placeholder)
	other, busy := c.tails[id]
	if !busy {
		c.tails[id] = tail
		return
	}

	// a mutation opened a lane on the authoritative id without going
	// through the placeholder's; later mutations wait for both
	merged := make(chan struct{})
	c.tails[id] = merged
	go func() {
		<-tail
		<-other
		close(merged)
		c.release(id, merged)
	}()
}

func (c *Coordinator) resolve(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(id)
}

func (c *Coordinator) resolveLocked(id string) string {
	if to, ok := c.aliases[id]; ok {
		return to
	}
	return id
}
