package filter

import (
	"slices"
	"sync"

	"github.com/sakif/snippetvault/internal/model"
)

// Source is what a View reads from; *store.Store satisfies it.
type Source interface {
	Snapshot() []model.Snippet
	Version() uint64
	Watch() (<-chan struct{}, func())
}

// visibleKey identifies one computed Visible list. Selection is comparable,
// so the whole key works with ==.
type visibleKey struct {
	version uint64
	sel     Selection
}

// View holds one selection over a Source and caches what it derives from it.
// Results are recomputed whenever the store version or the selection moves.
//
// MEMOIZATION:
// The store bumps its version on every visible change and never otherwise.
// Comparing versions is therefore enough to know whether a cached list is
// still right, and a burst of reads between two changes filters only once.
// Tags ignore the selection, so they are keyed on the version alone.
//
// The filtering itself runs outside mu. Two readers racing on a stale cache
// may both compute the list; the results are identical, so the last write
// wins harmlessly.
type View struct {
	src Source

	mu          sync.Mutex
	sel         Selection
	visibleKey  visibleKey
	visible     []model.Snippet
	haveVisible bool
	tagsVersion uint64
	tags        []string
	haveTags    bool

	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	nextID   int
}

// NewView returns a View over src with an empty selection.
func NewView(src Source) *View {
	return &View{src: src, watchers: make(map[int]chan struct{})}
}

// Selection returns the active selection.
func (v *View) Selection() Selection {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sel
}

// SetLanguage selects a language; "" clears the language filter.
func (v *View) SetLanguage(lang model.Language) {
	v.update(func(sel *Selection) { sel.Language = lang })
}

// SetTag selects a tag; "" clears the tag filter.
func (v *View) SetTag(tag string) {
	v.update(func(sel *Selection) { sel.Tag = tag })
}

// Clear drops both filters.
func (v *View) Clear() {
	v.update(func(sel *Selection) { *sel = Selection{} })
}

// update applies fn to the selection and notifies watchers if it changed.
func (v *View) update(fn func(*Selection)) {
	v.mu.Lock()
	before := v.sel
	fn(&v.sel)
	changed := v.sel != before
	v.mu.Unlock()

	if changed {
		v.notify()
	}
}

// Visible returns the snippets that pass the current selection, in store
// order.
func (v *View) Visible() []model.Snippet {
	// version before snapshot, so a cached list is never older than its key
	version := v.src.Version()

	v.mu.Lock()
	key := visibleKey{version: version, sel: v.sel}
	if v.haveVisible && v.visibleKey == key {
		out := cloneAll(v.visible)
		v.mu.Unlock()
		return out
	}
	v.mu.Unlock()

	list := Apply(v.src.Snapshot(), key.sel)

	v.mu.Lock()
	v.visibleKey = key
	v.visible = list
	v.haveVisible = true
	v.mu.Unlock()
	return cloneAll(list)
}

// Tags returns the tags of every snippet in the store, ignoring the
// selection.
func (v *View) Tags() []string {
	version := v.src.Version()

	v.mu.Lock()
	if v.haveTags && v.tagsVersion == version {
		out := slices.Clone(v.tags)
		v.mu.Unlock()
		return out
	}
	v.mu.Unlock()

	tags := AvailableTags(v.src.Snapshot())

	v.mu.Lock()
	v.tagsVersion = version
	v.tags = tags
	v.haveTags = true
	v.mu.Unlock()
	return slices.Clone(tags)
}

// Changes returns a channel that receives a value whenever Visible or Tags may
// have changed: on store changes and on selection changes. The returned func
// stops it.
func (v *View) Changes() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	v.watchMu.Lock()
	id := v.nextID
	v.nextID++
	v.watchers[id] = ch
	v.watchMu.Unlock()

	storeCh, stopStore := v.src.Watch()
	quit := make(chan struct{})
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for {
			select {
			case <-storeCh:
				signal(ch)
			case <-quit:
				return
			}
		}
	}()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			stopStore()
			close(quit)
			<-forwarded
			v.watchMu.Lock()
			delete(v.watchers, id)
			v.watchMu.Unlock()
		})
	}
}

func (v *View) notify() {
	v.watchMu.Lock()
	defer v.watchMu.Unlock()
	for _, ch := range v.watchers {
		signal(ch)
	}
}

// signal does a non-blocking send. Channels have a buffer of one, so bursts
// collapse into a single wake-up and a slow watcher never blocks a writer.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func cloneAll(list []model.Snippet) []model.Snippet {
	out := make([]model.Snippet, len(list))
	for i, s := range list {
		out[i] = s.Clone()
	}
	return out
}
