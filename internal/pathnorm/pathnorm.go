// Package pathnorm canonicalizes filesystem paths for comparison.
//
// Equipment writers are inconsistent about case and separators, so exclusion
// checks and plugin folder bindings compare folded forms rather than raw
// strings.
package pathnorm

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
)

// Clean returns the absolute, cleaned form of path with any trailing
// separator removed. Paths that cannot be made absolute are cleaned only.
func Clean(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	path = filepath.Clean(path)
	if len(path) > 1 {
		path = strings.TrimRight(path, string(filepath.Separator))
		if path == "" {
			path = string(filepath.Separator)
		}
	}
	return path
}

// Fold returns the canonical, case-folded key for path.
func Fold(path string) string {
	cleaned := Clean(path)
	if cleaned == "" {
		return ""
	}
	// Casers carry state and are not safe to share between goroutines.
	return cases.Fold().String(filepath.ToSlash(cleaned))
}

// Equal reports whether a and b name the same location ignoring case.
func Equal(a, b string) bool {
	return Fold(a) == Fold(b)
}

// Under reports whether path equals dir or lies beneath it, ignoring case.
func Under(path, dir string) bool {
	p, d := Fold(path), Fold(dir)
	if p == "" || d == "" {
		return false
	}
	if p == d {
		return true
	}
	if !strings.HasSuffix(d, "/") {
		d += "/"
	}
	return strings.HasPrefix(p, d)
}

// Set is a case-insensitive set of directories.
type Set struct {
	keys map[string]struct{}
}

// NewSet folds every entry of dirs into a set. Empty entries are ignored.
func NewSet(dirs []string) *Set {
	s := &Set{keys: make(map[string]struct{}, len(dirs))}
	for _, dir := range dirs {
		if key := Fold(dir); key != "" {
			s.keys[key] = struct{}{}
		}
	}
	return s
}

// Contains reports whether dir is a member of the set.
func (s *Set) Contains(dir string) bool {
	if s == nil || len(s.keys) == 0 {
		return false
	}
	_, ok := s.keys[Fold(dir)]
	return ok
}

// ContainsAncestor reports whether path or any of its parent directories is a
// member of the set.
func (s *Set) ContainsAncestor(path string) bool {
	if s == nil || len(s.keys) == 0 {
		return false
	}
	key := Fold(path)
	for key != "" {
		if _, ok := s.keys[key]; ok {
			return true
		}
		idx := strings.LastIndex(key, "/")
		if idx <= 0 {
			_, ok := s.keys["/"]
			return ok && key != "/"
		}
		key = key[:idx]
	}
	return false
}

// Len returns the number of distinct entries.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}
