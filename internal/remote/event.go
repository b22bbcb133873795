package remote

import (
	"encoding/json"
	"fmt"

	"github.com/sakif/snippetvault/internal/model"
)

// EventKind says what happened to a document.
type EventKind string

const (
	Added    EventKind = "added"
	Modified EventKind = "modified"
	Removed  EventKind = "removed"
)

// Valid reports whether k is one of the three known kinds.
func (k EventKind) Valid() bool {
	return k == Added || k == Modified || k == Removed
}

// Event is one change to the collection. Added and Modified carry a full
// snapshot of the document; Removed carries only the id.
type Event struct {
	Kind    EventKind      `json:"kind"`
	ID      string         `json:"id"`
	Snippet *model.Snippet `json:"snippet,omitempty"`
}

// AddedEvent builds an Added event carrying a copy of s.
func AddedEvent(s model.Snippet) Event {
	s = s.Clone()
	return Event{Kind: Added, ID: s.ID, Snippet: &s}
}

// ModifiedEvent builds a Modified event carrying a copy of s.
func ModifiedEvent(s model.Snippet) Event {
	s = s.Clone()
	return Event{Kind: Modified, ID: s.ID, Snippet: &s}
}

// RemovedEvent builds a Removed event; it carries only the id.
func RemovedEvent(id string) Event {
	return Event{Kind: Removed, ID: id}
}

// UserID returns the owner carried by the snapshot, or "" for Removed.
func (e Event) UserID() string {
	if e.Snippet == nil {
		return ""
	}
	return e.Snippet.UserID
}

// Validate checks the shape rules above.
func (e Event) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("remote: unknown event kind %q", e.Kind)
	}
	if e.ID == "" {
		return fmt.Errorf("remote: %s event without id", e.Kind)
	}
	if e.Kind == Removed {
		return nil
	}
	if e.Snippet == nil {
		return fmt.Errorf("remote: %s event %s without snapshot", e.Kind, e.ID)
	}
	if e.Snippet.ID != e.ID {
		return fmt.Errorf("remote: %s event id %s does not match snapshot id %s", e.Kind, e.ID, e.Snippet.ID)
	}
	return nil
}

// wireEvent is the JSON frame as it arrives; the snapshot stays untyped until
// DecodeDocument has checked it.
type wireEvent struct {
	Kind    EventKind `json:"kind"`
	ID      string    `json:"id"`
	Snippet Document  `json:"snippet"`
}

// DecodeEvent parses and validates one JSON change frame.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("remote: decoding event: %w", err)
	}

	ev := Event{Kind: w.Kind, ID: w.ID}
	if w.Kind != Removed && w.Snippet != nil {
		s, err := DecodeDocument(w.ID, w.Snippet)
		if err != nil {
			return Event{}, fmt.Errorf("remote: decoding %s event %s: %w", w.Kind, w.ID, err)
		}
		ev.Snippet = &s
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
