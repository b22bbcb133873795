package model

import (
	"slices"
	"strings"
)

// NormalizeTags turns a free-form tag list into a set: entries are trimmed,
// empty entries dropped, duplicates collapsed, and the result sorted so two
// sets with the same members compare equal. It never returns nil.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ParseTagList parses the comma-separated form used by the editing forms,
// e.g. "loop, python,,loop" -> [loop python].
func ParseTagList(s string) []string {
	return NormalizeTags(strings.Split(s, ","))
}

// FormatTagList is the inverse of ParseTagList.
func FormatTagList(tags []string) string {
	return strings.Join(tags, ", ")
}
