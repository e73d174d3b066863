package ingest

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar"
)

// MatchPatterns reports whether path matches any glob in patterns. Patterns
// without a '/' match the base name; others match the slash-separated path
// relative to root, so "invoices/**/*.pdf" works in recursive mode.
// Matching is case-sensitive.
func MatchPatterns(patterns []string, root, path string) bool {
	base := filepath.Base(path)
	rel := base
	if r, err := filepath.Rel(root, path); err == nil {
		rel = filepath.ToSlash(r)
	}
	for _, p := range patterns {
		name := base
		if strings.Contains(p, "/") {
			name = rel
		}
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}

// isWithin reports whether path is dir or below it. Both must be clean and absolute.
func isWithin(dir, path string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
