// Package session ties the signed-in user, as reported by the auth layer, to
// the lifetime of the snippet store subscription.
//
// STATE MACHINE:
//
//	Loading   -> nothing happens; the user is not known yet
//	SignedIn  -> open a store session for the user (closing any other)
//	SignedOut -> close the store session; readers see an empty view
//
// Applying the state the Manager is already in does nothing, so the auth
// layer may report the same user as often as it likes.
//
// WHAT THE MANAGER OWNS:
// One store.Store, one coordinator.Coordinator over it and one filter.View
// over the store. Callers get them from Store, Coordinator and View and must
// not close them; Close does that.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sakif/snippetvault/internal/coordinator"
	"github.com/sakif/snippetvault/internal/filter"
	"github.com/sakif/snippetvault/internal/remote"
	"github.com/sakif/snippetvault/internal/store"
)

// AuthState is what the auth layer knows about the current user. While
// Loading is set the user is not known yet; otherwise an empty UserID means
// signed out.
type AuthState struct {
	Loading bool
	UserID  string
}

// Loading is the state before the auth layer has answered.
func Loading() AuthState { return AuthState{Loading: true} }

// SignedIn is the state of a known user.
func SignedIn(userID string) AuthState { return AuthState{UserID: userID} }

// SignedOut is the state with no user.
func SignedOut() AuthState { return AuthState{} }

// Manager owns the client core for one front end: the store, the coordinator
// that mutates it and the filter view over it.
type Manager struct {
	store  *store.Store
	coord  *coordinator.Coordinator
	view   *filter.View
	logger *slog.Logger

	mu     sync.Mutex
	userID string
}

// NewManager builds the store, coordinator and view over adapter. No session
// is open until Apply receives a signed-in state.
func NewManager(adapter remote.Adapter, logger *slog.Logger, opts ...coordinator.Option) *Manager {
	st := store.New(adapter, logger)
	return &Manager{
		store:  st,
		coord:  coordinator.New(st, adapter, logger, opts...),
		view:   filter.NewView(st),
		logger: logger,
	}
}

// Store is the cache the front end renders from.
func (m *Manager) Store() *store.Store { return m.store }

// Coordinator is where the front end sends create, update and delete.
func (m *Manager) Coordinator() *coordinator.Coordinator { return m.coord }

// View is the filtered list and tag set over Store.
func (m *Manager) View() *filter.View { return m.view }

// UserID is the user whose session is open, or "".
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// Apply reacts to one auth state. Nothing happens while loading; a user opens
// (or replaces) the store session; signed out closes it.
func (m *Manager) Apply(ctx context.Context, state AuthState) error {
	if state.Loading {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if state.UserID == m.userID {
		return nil
	}

	if state.UserID == "" {
		m.store.Close()
		m.logger.Info("signed out, session closed", slog.String("user_id", m.userID))
		m.userID = ""
		return nil
	}

	if err := m.store.Open(ctx, state.UserID); err != nil {
		m.userID = ""
		return err
	}
	m.userID = state.UserID
	return nil
}

// Run applies every state from states until the channel closes or ctx is
// done, then closes the session. Failures to open are logged and the next
// state is awaited.
func (m *Manager) Run(ctx context.Context, states <-chan AuthState) error {
	defer m.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case state, ok := <-states:
			if !ok {
				return nil
			}
			if err := m.Apply(ctx, state); err != nil {
				m.logger.Error("failed to open snippet session",
					slog.String("user_id", state.UserID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Close ends the session, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store.Close()
	m.userID = ""
}
