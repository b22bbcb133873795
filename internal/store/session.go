package store

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/remote"
)

// opsBuffer bounds how far the remote feed may run ahead of the loop before
// its delivery goroutine blocks.
const opsBuffer = 256

// view is an immutable copy of a session's visible state, republished by the
// loop after every change. Readers never touch the cache directly.
type view struct {
	userID  string
	version uint64
	list    []model.Snippet
	index   map[string]int
}

func newView(userID string, version uint64, list []model.Snippet) *view {
	index := make(map[string]int, len(list))
	for i, s := range list {
		index[s.ID] = i
	}
	return &view{userID: userID, version: version, list: list, index: index}
}

// session is one open subscription: a cache plus the goroutine that owns it.
// Remote events and local mutations are both funnelled through ops, so they
// are applied one at a time in arrival order.
//
// THE LOOP:
// run is the only goroutine that reads or writes cache. Everything else talks
// to it through post (fire and forget) or call (wait for the result). After
// each change the loop builds a fresh view and swaps it in atomically, so
// readers on other goroutines never need the loop.
//
// CLOSING:
// done is closed exactly once. After that post refuses new work, the loop
// exits without running what is still queued, and exited is closed. A
// session is never reopened; the Store builds a new one on the next sign-in.
type session struct {
	cache       *cache
	logger      *slog.Logger
	onChange    func()
	nextVersion func() uint64

	ops    chan func()
	done   chan struct{}
	exited chan struct{}

	view  atomic.Pointer[view]
	unsub remote.Unsubscribe

	closeOnce sync.Once
}

func newSession(userID string, logger *slog.Logger, onChange func(), nextVersion func() uint64) *session {
	s := &session{
		cache:       newCache(userID, logger),
		logger:      logger,
		onChange:    onChange,
		nextVersion: nextVersion,
		ops:         make(chan func(), opsBuffer),
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
	}
	s.view.Store(newView(userID, nextVersion(), nil))
	return s
}

func (s *session) run() {
	defer close(s.exited)
	for {
		select {
		case op := <-s.ops:
			select {
			case <-s.done:
				return
			default:
			}
			op()
		case <-s.done:
			return
		}
	}
}

// post queues op on the loop. It returns false once the session is closed.
func (s *session) post(op func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ops <- op:
		return true
	case <-s.done:
		return false
	}
}

// call runs op on the loop and waits for it. It returns false if the session
// closed before op ran.
func (s *session) call(op func()) bool {
	finished := make(chan struct{})
	if !s.post(func() {
		defer close(finished)
		op()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-s.done:
		// op may have raced the close; report what actually happened
		select {
		case <-finished:
			return true
		default:
			return false
		}
	}
}

// deliver is the remote.ChangeFunc of the session's subscription.
func (s *session) deliver(ev remote.Event) {
	s.post(func() {
		if s.cache.apply(ev) {
			s.publish()
		}
	})
}

// publish must run on the loop.
func (s *session) publish() {
	s.view.Store(newView(s.cache.userID, s.nextVersion(), s.cache.snapshot()))
	s.onChange()
}

// close stops the loop, then releases the subscription. The order matters: a
// delivery goroutine blocked in post is released by done, so unsub can wait
// for it without deadlocking.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.exited
		if s.unsub != nil {
			s.unsub()
		}
	})
}
