package remote

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/model"
)

// Document is a schema-less document as the remote collection hands it out:
// a JSON object or a BSON document decoded into a map.
//
// WHY NOT DECODE STRAIGHT INTO model.Snippet?
// A document store accepts anything. A struct decode would turn a missing
// title into "" and a numeric date into an error far from its cause. Going
// through a map lets DecodeDocument name the exact field that is wrong, and
// the same checks run whether the document came from MongoDB, the REST API
// or a Redis relay message.
type Document map[string]any

// DecodeDocument re-expresses doc as a model.Snippet, checking every field.
// id is the document key; an "id" or "_id" inside doc is ignored.
//
// The checks are those of a stored record, not of the edit form: content may
// be empty, tags may be missing.
//
// FIELDS:
//
//	title        string, required, not blank
//	content      string, optional
//	language     string, one of model.Languages
//	tags         list of strings, optional, normalized
//	date         ISO-8601 string or a BSON date, required
//	userId       string, required
//	clientToken  string, optional
func DecodeDocument(id string, doc Document) (model.Snippet, error) {
	if strings.TrimSpace(id) == "" {
		return model.Snippet{}, apperror.ValidationFailed("id", "document id is required")
	}
	if doc == nil {
		return model.Snippet{}, apperror.ValidationFailed("document", fmt.Sprintf("document %s is empty", id))
	}

	title, err := stringField(doc, "title", true)
	if err != nil {
		return model.Snippet{}, err
	}
	if strings.TrimSpace(title) == "" {
		return model.Snippet{}, apperror.ValidationFailed("title", fmt.Sprintf("document %s has an empty title", id))
	}

	content, err := stringField(doc, "content", false)
	if err != nil {
		return model.Snippet{}, err
	}

	rawLang, err := stringField(doc, "language", true)
	if err != nil {
		return model.Snippet{}, err
	}
	lang, err := model.ParseLanguage(rawLang)
	if err != nil {
		return model.Snippet{}, apperror.ValidationFailed("language", fmt.Sprintf("document %s: %s", id, err))
	}

	tags, err := tagsField(doc)
	if err != nil {
		return model.Snippet{}, err
	}

	date, err := dateField(doc)
	if err != nil {
		return model.Snippet{}, err
	}

	userID, err := stringField(doc, "userId", true)
	if err != nil {
		return model.Snippet{}, err
	}
	if userID == "" {
		return model.Snippet{}, apperror.ValidationFailed("userId", fmt.Sprintf("document %s has no owner", id))
	}

	token, err := stringField(doc, "clientToken", false)
	if err != nil {
		return model.Snippet{}, err
	}

	return model.Snippet{
		ID:          id,
		Title:       title,
		Content:     content,
		Language:    lang,
		Tags:        tags,
		Date:        date,
		UserID:      userID,
		ClientToken: token,
	}, nil
}

// stringField reads key as a string. A missing key or a null is "" unless
// required.
func stringField(doc Document, key string, required bool) (string, error) {
	v, ok := doc[key]
	if !ok || v == nil {
		if required {
			return "", apperror.ValidationFailed(key, fmt.Sprintf("field %q is required", key))
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", apperror.ValidationFailed(key, fmt.Sprintf("field %q must be a string, got %T", key, v))
	}
	return s, nil
}

// tagsField accepts any slice of strings: []any from JSON, bson.A from
// MongoDB, or a plain []string.
func tagsField(doc Document) ([]string, error) {
	v, ok := doc["tags"]
	if !ok || v == nil {
		return []string{}, nil
	}
	// reflect instead of a type switch: bson.A and []any are different types
	// with the same shape
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, apperror.ValidationFailed("tags", fmt.Sprintf("field \"tags\" must be a list, got %T", v))
	}
	tags := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		s, ok := rv.Index(i).Interface().(string)
		if !ok {
			return nil, apperror.ValidationFailed("tags", fmt.Sprintf("tag %d must be a string", i))
		}
		tags = append(tags, s)
	}
	return model.NormalizeTags(tags), nil
}

// dateField accepts an ISO-8601 string, a time.Time, or anything with a
// Time() method (primitive.DateTime).
func dateField(doc Document) (time.Time, error) {
	v, ok := doc["date"]
	if !ok || v == nil {
		return time.Time{}, apperror.ValidationFailed("date", "field \"date\" is required")
	}
	switch d := v.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, d)
		if err != nil {
			return time.Time{}, apperror.ValidationFailed("date", fmt.Sprintf("field \"date\" is not ISO-8601: %q", d))
		}
		return model.NormalizeDate(t), nil
	case time.Time:
		return model.NormalizeDate(d), nil
	case interface{ Time() time.Time }:
		return model.NormalizeDate(d.Time()), nil
	}
	return time.Time{}, apperror.ValidationFailed("date", fmt.Sprintf("field \"date\" has unsupported type %T", v))
}
