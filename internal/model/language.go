package model

import (
	"fmt"
	"strings"
)

// Language is the enumerated set of languages a snippet can be written in.
type Language string

const (
	JavaScript Language = "javascript"
	Python     Language = "python"
	CSS        Language = "css"
	HTML       Language = "html"
	TypeScript Language = "typescript"
)

// Languages lists every supported language in display order.
var Languages = []Language{JavaScript, Python, CSS, HTML, TypeScript}

// Valid reports whether l is one of Languages.
func (l Language) Valid() bool {
	switch l {
	case JavaScript, Python, CSS, HTML, TypeScript:
		return true
	}
	return false
}

// String returns the wire name, e.g. "python".
func (l Language) String() string {
	return string(l)
}

// ParseLanguage accepts any casing and surrounding whitespace.
func ParseLanguage(s string) (Language, error) {
	l := Language(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unsupported language %q", s)
	}
	return l, nil
}
