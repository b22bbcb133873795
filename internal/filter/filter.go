// Package filter derives the displayed subset of the store: snippets matching
// a language and/or tag selection, plus the set of tags available to pick
// from.
//
// PURE FUNCTIONS FIRST:
// Apply and AvailableTags take a slice and return a new one. They never read
// global state, so the same input always gives the same output:
//
//	Apply(s, Selection{})          == s
//	Apply(s, Selection{L, T})      ⊆ s, order kept
//	AvailableTags(s)               is computed on the UNFILTERED list
//
// The last rule keeps every tag pickable: choosing "loop" must not make
// "sorting" disappear from the tag picker.
//
// THE VIEW:
// View wraps the pure functions with a selection and a cache. The cache key
// is (store version, selection), so a change to either forces a recompute and
// nothing else does. A front end holds one View per screen; there is no
// package-level "current filter".
package filter

import (
	"slices"

	"github.com/sakif/snippetvault/internal/model"
)

// Selection is the active filter. An empty field matches everything.
type Selection struct {
	Language model.Language
	Tag      string
}

// IsZero reports whether the selection matches everything.
func (s Selection) IsZero() bool {
	return s.Language == "" && s.Tag == ""
}

// Matches reports whether snippet passes the selection.
func (s Selection) Matches(snippet model.Snippet) bool {
	if s.Language != "" && snippet.Language != s.Language {
		return false
	}
	if s.Tag != "" && !snippet.HasTag(s.Tag) {
		return false
	}
	return true
}

// Apply returns the snippets matching sel, in their original order. The
// input is not modified.
func Apply(snippets []model.Snippet, sel Selection) []model.Snippet {
	out := make([]model.Snippet, 0, len(snippets))
	for _, s := range snippets {
		if sel.Matches(s) {
			out = append(out, s)
		}
	}
	return out
}

// AvailableTags is the sorted union of the tags of snippets. Callers pass the
// unfiltered list so picking a tag never hides the others.
func AvailableTags(snippets []model.Snippet) []string {
	seen := make(map[string]struct{})
	tags := []string{}
	for _, s := range snippets {
		for _, t := range s.Tags {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	slices.Sort(tags)
	return tags
}
