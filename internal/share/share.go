// Package share builds and parses the deep links that identify a snippet.
package share

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/model"
)

// PathPrefix is the path segment deep links live under.
const PathPrefix = "/snippet/"

// Link returns <baseURL>/snippet/<id>. Only persisted snippets can be shared:
// empty and placeholder ids are rejected.
func Link(baseURL, id string) (string, error) {
	if id == "" {
		return "", apperror.ValidationFailed("id", "snippet id is required")
	}
	if model.IsPlaceholder(id) {
		return "", apperror.ValidationFailed("id", "snippet is not saved yet")
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", apperror.ValidationFailed("baseURL", fmt.Sprintf("invalid base URL %q", baseURL))
	}
	return base.String() + PathPrefix + url.PathEscape(id), nil
}

// ParseLink extracts the snippet id from a deep link. Anything after the id
// (query, fragment, trailing slash) is ignored.
func ParseLink(link string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", apperror.ValidationFailed("link", fmt.Sprintf("invalid link %q", link))
	}
	i := strings.LastIndex(u.Path, PathPrefix)
	if i < 0 {
		return "", apperror.ValidationFailed("link", fmt.Sprintf("%q is not a snippet link", link))
	}
	id := strings.Trim(u.Path[i+len(PathPrefix):], "/")
	if id == "" || strings.Contains(id, "/") || model.IsPlaceholder(id) {
		return "", apperror.ValidationFailed("link", fmt.Sprintf("%q has no snippet id", link))
	}
	return id, nil
}
