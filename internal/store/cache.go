package store

import (
	"log/slog"
	"sort"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/remote"
)

// entry is one cached record.
//
// base is the last value the remote collection confirmed (for a placeholder:
// the optimistic copy). The visible value is base with the in-flight patch
// applied, or nothing while a delete is in flight. Echoes only ever touch
// base, so a rollback is just dropping patch or deleting.
type entry struct {
	base     model.Snippet
	patch    *model.Patch
	deleting bool
	token    string // set while the entry is an optimistic placeholder
	seq      uint64
}

func (e *entry) visible() (model.Snippet, bool) {
	if e.deleting {
		return model.Snippet{}, false
	}
	if e.patch != nil {
		return e.patch.Apply(e.base), true
	}
	return e.base.Clone(), true
}

// cache is the state of one session. It is only touched from the session's
// loop goroutine, so it has no locks.
//
// ENTRY STATES:
// An entry is in exactly one of these states:
//   - confirmed: base came from the remote collection, no patch, not deleting
//   - patched: an update is in flight; visible = patch applied to base
//   - deleting: a delete is in flight; the entry is hidden but kept, so a
//     failed delete can bring it back unchanged
//   - placeholder: an optimistic create under a local id, with token set
//
// An echo of the real record moves a placeholder to confirmed (see
// replacePlaceholder). Every other echo only rewrites base, so whatever the
// local mutation is doing stays on top of it.
//
// ORDER:
// seq is the insertion counter. snapshot lists the most recently inserted
// record first, and an update never moves a record.
type cache struct {
	userID  string
	logger  *slog.Logger
	entries map[string]*entry
	tokens  map[string]string // correlation token -> placeholder id, while the create is pending
	seq     uint64
}

func newCache(userID string, logger *slog.Logger) *cache {
	return &cache{
		userID:  userID,
		logger:  logger,
		entries: make(map[string]*entry),
		tokens:  make(map[string]string),
	}
}

// apply reconciles one remote change event and reports whether the visible
// state changed.
func (c *cache) apply(ev remote.Event) bool {
	if err := ev.Validate(); err != nil {
		c.logger.Warn("dropping malformed change event", slog.String("error", err.Error()))
		return false
	}

	if ev.Kind == remote.Removed {
		e, ok := c.entries[ev.ID]
		if !ok {
			return false
		}
		delete(c.entries, ev.ID)
		c.logger.Debug("snippet removed remotely", slog.String("id", ev.ID))
		return !e.deleting
	}

	snap := ev.Snippet.Clone()
	if snap.UserID != c.userID {
		c.logger.Warn("dropping change event for another user",
			slog.String("id", snap.ID),
			slog.String("owner", snap.UserID),
		)
		return false
	}

	if changed, handled := c.resolvePlaceholder(snap); handled {
		return changed
	}

	e, ok := c.entries[snap.ID]
	if !ok {
		c.seq++
		c.entries[snap.ID] = &entry{base: snap, seq: c.seq}
		return true
	}

	if model.SameContent(e.base, snap) {
		return false
	}
	before, wasVisible := e.visible()
	e.base = snap
	after, isVisible := e.visible()
	return wasVisible != isVisible || !model.SameContent(before, after)
}

// resolvePlaceholder swaps a pending placeholder for the authoritative record
// when snap carries its correlation token.
func (c *cache) resolvePlaceholder(snap model.Snippet) (changed, handled bool) {
	if snap.ClientToken == "" {
		return false, false
	}
	phID, ok := c.tokens[snap.ClientToken]
	if !ok {
		return false, false
	}
	ph, ok := c.entries[phID]
	if !ok {
		return false, false
	}

	c.replacePlaceholder(phID, ph, snap)
	c.logger.Debug("placeholder resolved by echo",
		slog.String("placeholder", phID),
		slog.String("id", snap.ID),
	)
	return true, true
}

// replacePlaceholder re-keys the placeholder under snap.ID. Its token is
// forgotten: later events with the same token are plain upserts by id.
func (c *cache) replacePlaceholder(phID string, ph *entry, snap model.Snippet) {
	delete(c.entries, phID)
	delete(c.tokens, ph.token)
	if existing, ok := c.entries[snap.ID]; ok {
		existing.base = snap
		return
	}
	c.entries[snap.ID] = &entry{base: snap, seq: ph.seq}
}

func (c *cache) beginCreate(token string, s model.Snippet) string {
	id := model.PlaceholderID(token)
	s = s.Clone()
	s.ID = id
	s.UserID = c.userID
	s.ClientToken = token

	c.seq++
	c.entries[id] = &entry{base: s, token: token, seq: c.seq}
	c.tokens[token] = id
	return id
}

// commitCreate moves the placeholder under the id the remote collection
// assigned. The echo, when it arrives, overwrites the optimistic copy.
func (c *cache) commitCreate(phID, id string) bool {
	ph, ok := c.entries[phID]
	if !ok || ph.token == "" {
		// already resolved by an echo, or removed since
		return false
	}
	snap := ph.base.Clone()
	snap.ID = id
	c.replacePlaceholder(phID, ph, snap)
	return true
}

func (c *cache) abortCreate(phID, token string) bool {
	delete(c.tokens, token)
	if _, ok := c.entries[phID]; !ok {
		return false
	}
	delete(c.entries, phID)
	return true
}

// lookup returns the entry for a mutation, enforcing presence and ownership.
func (c *cache) lookup(id string) (*entry, error) {
	e, ok := c.entries[id]
	if !ok || e.deleting {
		return nil, apperror.NotFound("snippet", id)
	}
	if e.base.UserID != c.userID {
		return nil, apperror.Forbidden("you do not own this snippet")
	}
	if e.patch != nil {
		return nil, apperror.Conflict("snippet", id)
	}
	return e, nil
}

// beginUpdate applies the optimistic patch and returns the fields that
// actually change. An empty diff leaves the entry untouched.
func (c *cache) beginUpdate(id string, patch model.Patch) (model.Patch, error) {
	e, err := c.lookup(id)
	if err != nil {
		return model.Patch{}, err
	}
	current, _ := e.visible()
	diff := patch.Diff(current)
	if diff.IsEmpty() {
		return diff, nil
	}
	e.patch = &diff
	return diff, nil
}

func (c *cache) commitUpdate(id string) bool {
	e, ok := c.entries[id]
	if !ok || e.patch == nil {
		return false
	}
	e.base = e.patch.Apply(e.base)
	e.patch = nil
	return false
}

func (c *cache) abortUpdate(id string) bool {
	e, ok := c.entries[id]
	if !ok || e.patch == nil {
		return false
	}
	before, _ := e.visible()
	e.patch = nil
	after, visible := e.visible()
	return visible && !model.SameContent(before, after)
}

func (c *cache) beginDelete(id string) error {
	e, err := c.lookup(id)
	if err != nil {
		return err
	}
	e.deleting = true
	return nil
}

func (c *cache) commitDelete(id string) bool {
	e, ok := c.entries[id]
	if !ok || !e.deleting {
		return false
	}
	delete(c.entries, id)
	return false
}

func (c *cache) abortDelete(id string) bool {
	e, ok := c.entries[id]
	if !ok || !e.deleting {
		return false
	}
	e.deleting = false
	return true
}

// snapshot builds the visible records, most recently inserted first.
func (c *cache) snapshot() []model.Snippet {
	type item struct {
		s   model.Snippet
		seq uint64
	}
	items := make([]item, 0, len(c.entries))
	for _, e := range c.entries {
		if s, ok := e.visible(); ok {
			items = append(items, item{s: s, seq: e.seq})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq > items[j].seq })

	out := make([]model.Snippet, len(items))
	for i, it := range items {
		out[i] = it.s
	}
	return out
}
