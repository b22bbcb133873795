// Package model defines the data structures used throughout the application.
//
// Snippet is the one entity every layer shares: the repositories persist it,
// the change feed carries it, and the client store mirrors it. Documents that
// arrive from outside (JSON frames, BSON change events) are converted into a
// Snippet by remote.DecodeDocument, which validates every field first.
package model

import (
	"slices"
	"strings"
	"time"
)

// Limits enforced on every create and edit.
const (
	MaxTitleLength   = 100
	MaxContentLength = 100000 // ~100KB of code
)

// PlaceholderPrefix marks ids that exist only in a client's local store while
// a create is in flight. They are never sent to the remote collection.
const PlaceholderPrefix = "local:"

// Snippet represents a saved code snippet owned by exactly one user.
//
// ClientToken is the correlation token written by the client that created the
// snippet. The remote collection stores it and echoes it back on change
// events, which lets the creating client swap its optimistic placeholder for
// the authoritative record even when the echo beats the create response.
type Snippet struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Language    Language  `json:"language"`
	Tags        []string  `json:"tags"`
	Date        time.Time `json:"date"`
	UserID      string    `json:"userId"`
	ClientToken string    `json:"clientToken,omitempty"`
}

// Clone returns a deep copy; Tags is the only reference field.
func (s Snippet) Clone() Snippet {
	s.Tags = slices.Clone(s.Tags)
	if s.Tags == nil {
		s.Tags = []string{}
	}
	return s
}

// HasTag reports whether tag is one of the snippet's tags.
func (s Snippet) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

// SameContent reports whether a and b describe the same record. The
// correlation token is bookkeeping and does not take part.
func SameContent(a, b Snippet) bool {
	return a.ID == b.ID &&
		a.Title == b.Title &&
		a.Content == b.Content &&
		a.Language == b.Language &&
		a.UserID == b.UserID &&
		a.Date.Equal(b.Date) &&
		slices.Equal(NormalizeTags(a.Tags), NormalizeTags(b.Tags))
}

// Now returns the current time in the precision every backend can store
// (MongoDB keeps milliseconds), so a record read back compares equal to the
// one that was written.
func Now() time.Time {
	return NormalizeDate(time.Now())
}

// NormalizeDate converts t to UTC with millisecond precision.
func NormalizeDate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// PlaceholderID builds the temporary id of an optimistic copy.
func PlaceholderID(token string) string {
	return PlaceholderPrefix + token
}

// IsPlaceholder reports whether id is a local-only placeholder id.
func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// Ptr returns a pointer to v. Handy for building a Patch.
func Ptr[T any](v T) *T {
	return &v
}
