package scanner

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// IgnorePattern represents a single gitignore-style pattern.
type IgnorePattern struct {
	pattern    string // Original pattern
	isNegation bool   // True if pattern starts with !
	base       string // glob naming the matched entry itself
	globs      []string
}

// ParseIgnorePattern parses a gitignore-style pattern string. A pattern
// without a slash matches at any depth, a trailing slash matches directory
// contents only, and a leading slash anchors the pattern at the root.
func ParseIgnorePattern(pattern string) IgnorePattern {
	p := IgnorePattern{pattern: pattern}

	if strings.HasPrefix(pattern, "!") {
		p.isNegation = true
		pattern = pattern[1:]
	}

	directory := strings.HasSuffix(pattern, "/")
	pattern = strings.TrimSuffix(pattern, "/")

	anchored := strings.HasPrefix(pattern, "/")
	pattern = strings.TrimPrefix(pattern, "/")
	if !anchored && !strings.Contains(pattern, "/") {
		pattern = "**/" + pattern
	}

	p.base = pattern
	if !directory {
		p.globs = append(p.globs, pattern)
	}
	p.globs = append(p.globs, pattern+"/**")
	return p
}

// Match reports whether path matches the pattern. A negation pattern
// matches too; the caller decides what a match means.
func (p IgnorePattern) Match(path string) bool {
	path = filepath.ToSlash(path)
	for _, glob := range p.globs {
		if ok, _ := doublestar.Match(glob, path); ok {
			return true
		}
	}
	return false
}

// MatchDir reports whether the directory at path matches the pattern, so
// that nothing below it needs to be walked.
func (p IgnorePattern) MatchDir(path string) bool {
	path = filepath.ToSlash(path)
	if ok, _ := doublestar.Match(p.base, path); ok {
		return true
	}
	return p.Match(path)
}

// IsNegation returns true if this pattern is a negation pattern.
func (p IgnorePattern) IsNegation() bool {
	return p.isNegation
}

// String returns the pattern as written.
func (p IgnorePattern) String() string {
	return p.pattern
}
