// Package store keeps the signed-in user's snippets in memory, mirrored from
// the remote collection through a live subscription.
//
// TWO WRITERS, ONE OWNER:
// The cache has two sources of change:
//
//	remote change events  → added / modified / removed, pushed by the adapter
//	optimistic mutations  → Begin*/Commit*/Abort*, called by the coordinator
//
// Both are turned into closures and sent down one channel. A single goroutine
// per session (the "loop", see session.go) runs them in arrival order, so the
// cache in cache.go has no locks at all. Nothing outside the loop ever
// touches it.
//
// READERS:
// After every change the loop publishes an immutable view (list + index by
// id) through an atomic pointer. Snapshot, Get and Len read that view and
// return copies, so a reader never blocks the loop and can never modify the
// store through what it got back.
//
// SESSIONS:
// Open starts a session for one user; Open for another user or Close ends it.
// A closed session drops every event still in flight, and a Ticket issued by
// it is ignored when committed or aborted later. That is how a response that
// arrives after sign-out is kept out of the next user's cache.
//
// RECONCILIATION RULES (cache.go):
//   - events for another user are dropped
//   - an event carrying the correlation token of a pending create replaces
//     the placeholder with the authoritative record
//   - an echo equal to the known record changes nothing (no version bump)
//   - echoes update the confirmed base; an in-flight patch stays layered on
//     top, and an in-flight delete keeps the record hidden
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/remote"
)

// Store is the client-side cache of one user's snippets. The zero value is
// not usable; use New.
type Store struct {
	adapter remote.Adapter
	logger  *slog.Logger

	openMu   sync.Mutex // serializes Open and Close
	cur      atomic.Pointer[session]
	versions atomic.Uint64

	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	nextID   int
}

// New returns a closed Store reading from adapter. Call Open to start a
// session.
func New(adapter remote.Adapter, logger *slog.Logger) *Store {
	return &Store{
		adapter:  adapter,
		logger:   logger,
		watchers: make(map[int]chan struct{}),
	}
}

// Open subscribes to userID's snippets, replacing any previous subscription.
// The store starts empty; the initial documents arrive as added events.
func (s *Store) Open(ctx context.Context, userID string) error {
	if userID == "" {
		return apperror.AuthRequired()
	}

	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.closeLocked()

	sess := newSession(userID, s.logger.With(slog.String("user_id", userID)), s.notify, s.bumpVersion)
	go sess.run()

	unsub, err := s.adapter.Subscribe(ctx, userID, sess.deliver)
	if err != nil {
		sess.close()
		return fmt.Errorf("store: subscribing for %s: %w", userID, err)
	}
	sess.unsub = unsub
	s.cur.Store(sess)
	s.logger.Info("snippet store opened", slog.String("user_id", userID))
	s.notify()
	return nil
}

// Close cancels the subscription and empties the store. No remote event is
// applied after Close returns. Closing a closed store is a no-op.
func (s *Store) Close() {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	if s.closeLocked() {
		s.logger.Info("snippet store closed")
		s.notify()
	}
}

func (s *Store) closeLocked() bool {
	sess := s.cur.Swap(nil)
	if sess == nil {
		return false
	}
	sess.close()
	s.bumpVersion()
	return true
}

// UserID reports whose snippets the store holds, or "" when closed.
func (s *Store) UserID() string {
	if sess := s.cur.Load(); sess != nil {
		return sess.cache.userID
	}
	return ""
}

func (s *Store) view() *view {
	if sess := s.cur.Load(); sess != nil {
		return sess.view.Load()
	}
	return nil
}

// Snapshot returns a copy of every visible snippet, most recently inserted
// first. Placeholders for in-flight creates have ids starting with
// model.PlaceholderPrefix.
func (s *Store) Snapshot() []model.Snippet {
	v := s.view()
	if v == nil {
		return []model.Snippet{}
	}
	out := make([]model.Snippet, len(v.list))
	for i, sn := range v.list {
		out[i] = sn.Clone()
	}
	return out
}

// Get returns a copy of the visible record with the given id. Records whose
// delete is in flight are not visible.
func (s *Store) Get(id string) (model.Snippet, bool) {
	v := s.view()
	if v == nil {
		return model.Snippet{}, false
	}
	i, ok := v.index[id]
	if !ok {
		return model.Snippet{}, false
	}
	return v.list[i].Clone(), true
}

// Len is the number of visible records.
func (s *Store) Len() int {
	if v := s.view(); v != nil {
		return len(v.list)
	}
	return 0
}

// Version increases every time the visible contents change, including on
// Open and Close. Equal versions mean equal contents.
func (s *Store) Version() uint64 {
	if v := s.view(); v != nil {
		return v.version
	}
	return s.versions.Load()
}

func (s *Store) bumpVersion() uint64 {
	return s.versions.Add(1)
}

// Watch returns a channel that receives a value after the visible contents
// change. Notifications coalesce; receivers should re-read Snapshot. The
// returned func stops the watch.
func (s *Store) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, id)
			s.watchMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Ticket ties an optimistic mutation to the session it was started in. If the
// store is closed or reopened in between, committing or aborting it is a
// no-op.
type Ticket struct {
	sess  *session
	id    string
	token string
}

// ID is the id the mutation applies to; for a create, the placeholder id.
func (t Ticket) ID() string { return t.id }

func (s *Store) current() (*session, error) {
	sess := s.cur.Load()
	if sess == nil {
		return nil, apperror.AuthRequired()
	}
	return sess, nil
}

// run executes fn on the session loop and maps a concurrent close to
// AuthRequired.
func run(sess *session, fn func()) error {
	if !sess.call(fn) {
		return apperror.AuthRequired()
	}
	return nil
}

// BeginCreate inserts snippet under a placeholder id derived from token.
// The owner is forced to the session user.
func (s *Store) BeginCreate(token string, snippet model.Snippet) (Ticket, error) {
	sess, err := s.current()
	if err != nil {
		return Ticket{}, err
	}
	var id string
	if err := run(sess, func() {
		id = sess.cache.beginCreate(token, snippet)
		sess.publish()
	}); err != nil {
		return Ticket{}, err
	}
	return Ticket{sess: sess, id: id, token: token}, nil
}

// CommitCreate re-keys the placeholder under the authoritative id, unless the
// echo already did.
func (s *Store) CommitCreate(t Ticket, id string) {
	s.finish(t, func(c *cache) bool { return c.commitCreate(t.id, id) })
}

// AbortCreate removes the placeholder.
func (s *Store) AbortCreate(t Ticket) {
	s.finish(t, func(c *cache) bool { return c.abortCreate(t.id, t.token) })
}

// BeginUpdate overlays patch on the record and returns the fields that
// actually change. An empty result means nothing was applied and nothing
// needs to be sent.
func (s *Store) BeginUpdate(id string, patch model.Patch) (Ticket, model.Patch, error) {
	sess, err := s.current()
	if err != nil {
		return Ticket{}, model.Patch{}, err
	}
	var (
		diff   model.Patch
		recErr error
	)
	if err := run(sess, func() {
		diff, recErr = sess.cache.beginUpdate(id, patch)
		if recErr == nil && !diff.IsEmpty() {
			sess.publish()
		}
	}); err != nil {
		return Ticket{}, model.Patch{}, err
	}
	if recErr != nil {
		return Ticket{}, model.Patch{}, recErr
	}
	return Ticket{sess: sess, id: id}, diff, nil
}

// CommitUpdate folds the overlay into the confirmed value.
func (s *Store) CommitUpdate(t Ticket) {
	s.finish(t, func(c *cache) bool { return c.commitUpdate(t.id) })
}

// AbortUpdate drops the overlay, restoring the pre-update value.
func (s *Store) AbortUpdate(t Ticket) {
	s.finish(t, func(c *cache) bool { return c.abortUpdate(t.id) })
}

// BeginDelete hides the record until the delete resolves.
func (s *Store) BeginDelete(id string) (Ticket, error) {
	sess, err := s.current()
	if err != nil {
		return Ticket{}, err
	}
	var recErr error
	if err := run(sess, func() {
		recErr = sess.cache.beginDelete(id)
		if recErr == nil {
			sess.publish()
		}
	}); err != nil {
		return Ticket{}, err
	}
	if recErr != nil {
		return Ticket{}, recErr
	}
	return Ticket{sess: sess, id: id}, nil
}

// CommitDelete drops the hidden record for good.
func (s *Store) CommitDelete(t Ticket) {
	s.finish(t, func(c *cache) bool { return c.commitDelete(t.id) })
}

// AbortDelete makes the record visible again.
func (s *Store) AbortDelete(t Ticket) {
	s.finish(t, func(c *cache) bool { return c.abortDelete(t.id) })
}

func (s *Store) finish(t Ticket, fn func(*cache) bool) {
	if t.sess == nil {
		return
	}
	t.sess.call(func() {
		if fn(t.sess.cache) {
			t.sess.publish()
		}
	})
}
