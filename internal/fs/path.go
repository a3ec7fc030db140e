package fs

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for path segments that are empty or would
// resolve outside the watched root.
var ErrInvalidPath = errors.New("invalid path")

// Resolve turns an externally supplied path segment into a canonical
// root-relative path. A single leading slash (as left by a catch-all
// route parameter) is ignored; anything else absolute, any ".."
// element, backslashes and NUL bytes are rejected.
func Resolve(segment string) (string, error) {
	segment = strings.TrimPrefix(segment, "/")
	if segment == "" {
		return "", ErrInvalidPath
	}
	if strings.ContainsAny(segment, "\\\x00") || strings.HasPrefix(segment, "/") {
		return "", ErrInvalidPath
	}
	for _, elem := range strings.Split(segment, "/") {
		if elem == ".." {
			return "", ErrInvalidPath
		}
	}

	cleaned := path.Clean(segment)
	if cleaned == "." || cleaned == "" {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// Join returns the canonical path of name inside dir.
func Join(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	return dir + "/" + name
}

// Rel converts an absolute filesystem path below root into its canonical
// form. It fails with ErrInvalidPath when abs is the root itself or lies
// outside it.
func Rel(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", ErrInvalidPath
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrInvalidPath
	}
	return rel, nil
}
