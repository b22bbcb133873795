package model

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sakif/snippetvault/internal/apperror"
)

// Draft is the input of a create: everything the user typed into the form.
// Date may be left zero, in which case the creation time is used.
type Draft struct {
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Language Language  `json:"language"`
	Tags     []string  `json:"tags"`
	Date     time.Time `json:"date,omitempty"`
}

// Normalize trims the title, canonicalizes language and tags, and fixes the
// date precision. It does not validate.
func (d Draft) Normalize() Draft {
	d.Title = strings.TrimSpace(d.Title)
	d.Language = Language(strings.ToLower(strings.TrimSpace(string(d.Language))))
	d.Tags = NormalizeTags(d.Tags)
	if !d.Date.IsZero() {
		d.Date = NormalizeDate(d.Date)
	}
	return d
}

// Validate checks the rules of the create form: title and content are
// required and the language must be one of Languages.
func (d Draft) Validate() error {
	d = d.Normalize()
	if err := validateTitle(d.Title); err != nil {
		return err
	}
	if err := validateContent(d.Content); err != nil {
		return err
	}
	return validateLanguage(d.Language)
}

// Snippet builds the record for userID. A zero draft date becomes now.
func (d Draft) Snippet(userID string, now time.Time) Snippet {
	d = d.Normalize()
	date := d.Date
	if date.IsZero() {
		date = NormalizeDate(now)
	}
	return Snippet{
		Title:    d.Title,
		Content:  d.Content,
		Language: d.Language,
		Tags:     d.Tags,
		Date:     date,
		UserID:   userID,
	}
}

// Patch is a partial edit. A nil field means "leave unchanged"; a non-nil Tags
// pointing at an empty slice clears the tags.
//
// Date is only changed when the caller sets it: edits keep the creation date.
//
// POINTER FIELDS:
// A plain string cannot tell "set the title to empty" from "do not touch the
// title". A *string can: nil is absent, a pointer to "" is an explicit value.
// With omitempty the same distinction survives JSON, so a PATCH body of
// {"tags": []} clears the tags while {} changes nothing. Ptr builds the
// pointers in one expression.
type Patch struct {
	Title    *string    `json:"title,omitempty"`
	Content  *string    `json:"content,omitempty"`
	Language *Language  `json:"language,omitempty"`
	Tags     *[]string  `json:"tags,omitempty"`
	Date     *time.Time `json:"date,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.Language == nil && p.Tags == nil && p.Date == nil
}

// Fields lists the names of the fields the patch sets, in a fixed order.
func (p Patch) Fields() []string {
	var fields []string
	if p.Title != nil {
		fields = append(fields, "title")
	}
	if p.Content != nil {
		fields = append(fields, "content")
	}
	if p.Language != nil {
		fields = append(fields, "language")
	}
	if p.Tags != nil {
		fields = append(fields, "tags")
	}
	if p.Date != nil {
		fields = append(fields, "date")
	}
	return fields
}

// Normalize returns a copy with the same canonical forms Draft.Normalize uses.
func (p Patch) Normalize() Patch {
	out := Patch{}
	if p.Title != nil {
		out.Title = Ptr(strings.TrimSpace(*p.Title))
	}
	if p.Content != nil {
		out.Content = Ptr(*p.Content)
	}
	if p.Language != nil {
		out.Language = Ptr(Language(strings.ToLower(strings.TrimSpace(string(*p.Language)))))
	}
	if p.Tags != nil {
		out.Tags = Ptr(NormalizeTags(*p.Tags))
	}
	if p.Date != nil {
		out.Date = Ptr(NormalizeDate(*p.Date))
	}
	return out
}

// Validate applies the edit-form rules to every field the patch sets.
func (p Patch) Validate() error {
	p = p.Normalize()
	if p.Title != nil {
		if err := validateTitle(*p.Title); err != nil {
			return err
		}
	}
	if p.Content != nil {
		if err := validateContent(*p.Content); err != nil {
			return err
		}
	}
	if p.Language != nil {
		if err := validateLanguage(*p.Language); err != nil {
			return err
		}
	}
	if p.Date != nil && p.Date.IsZero() {
		return apperror.ValidationFailed("date", "date must not be zero")
	}
	return nil
}

// Apply returns s with the patch applied. s is not modified.
func (p Patch) Apply(s Snippet) Snippet {
	p = p.Normalize()
	out := s.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Content != nil {
		out.Content = *p.Content
	}
	if p.Language != nil {
		out.Language = *p.Language
	}
	if p.Tags != nil {
		out.Tags = slices.Clone(*p.Tags)
	}
	if p.Date != nil {
		out.Date = *p.Date
	}
	return out
}

// Diff keeps only the fields whose value differs from s, so an update request
// carries nothing but real changes.
func (p Patch) Diff(s Snippet) Patch {
	// normalize first, or "Python " would count as a change from "python"
	p = p.Normalize()
	out := Patch{}
	if p.Title != nil && *p.Title != s.Title {
		out.Title = p.Title
	}
	if p.Content != nil && *p.Content != s.Content {
		out.Content = p.Content
	}
	if p.Language != nil && *p.Language != s.Language {
		out.Language = p.Language
	}
	if p.Tags != nil && !slices.Equal(*p.Tags, NormalizeTags(s.Tags)) {
		out.Tags = p.Tags
	}
	if p.Date != nil && !p.Date.Equal(s.Date) {
		out.Date = p.Date
	}
	return out
}

// The validate* helpers expect normalized input and are shared by Draft and
// Patch, so both forms give the same messages for the same mistake.

func validateTitle(title string) error {
	if title == "" {
		return apperror.ValidationFailed("title", "snippet title is required")
	}
	if len(title) > MaxTitleLength {
		return apperror.ValidationFailed("title",
			fmt.Sprintf("snippet title must be %d characters or less", MaxTitleLength))
	}
	return nil
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperror.ValidationFailed("content", "snippet content is required")
	}
	if len(content) > MaxContentLength {
		return apperror.ValidationFailed("content",
			fmt.Sprintf("content must be %d characters or less", MaxContentLength))
	}
	return nil
}

func validateLanguage(l Language) error {
	if l == "" {
		return apperror.ValidationFailed("language", "snippet language is required")
	}
	if !l.Valid() {
		return apperror.ValidationFailed("language", fmt.Sprintf("unsupported language %q", l))
	}
	return nil
}
