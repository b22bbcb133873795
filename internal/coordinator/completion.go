package coordinator

import (
	"context"
	"sync"
)

// Completion is the pending result of one mutation. Expected failures
// (validation, not found, remote errors) are reported through Err, never by
// panicking.
//
// USAGE:
//
//	done := coord.Update(ctx, id, patch)
//	// the store already shows the edit here
//	if err := done.Wait(ctx); err != nil {
//		// the edit has been rolled back
//	}
//
// Callers that do not care about the outcome may drop the Completion; the
// mutation runs to the end either way.
type Completion struct {
	mu   sync.Mutex
	id   string
	err  error
	done chan struct{}
}

func newCompletion(id string) *Completion {
	return &Completion{id: id, done: make(chan struct{})}
}

// resolved is a Completion for a mutation that was decided before anything
// was queued, e.g. rejected by validation.
func resolved(id string, err error) *Completion {
	c := newCompletion(id)
	c.resolve(err)
	return c
}

// ID is the id the mutation targets. For a create it is the placeholder id
// until the remote collection assigns the real one.
func (c *Completion) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Completion) setID(id string) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

// Done is closed once the mutation has resolved and the store reflects it.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err is nil until Done is closed, then the mutation's error.
func (c *Completion) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until the mutation resolves or ctx is done. Giving up on the
// wait does not cancel the mutation.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve must be called exactly once.
func (c *Completion) resolve(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.done)
}
