// Package fs provides root-relative file access and canonical path
// resolution for the watched directory.
package fs

import "time"

// FileInfo holds file metadata.
type FileInfo struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// DirEntry represents a single directory entry.
type DirEntry struct {
	Name  string
	IsDir bool
}

// FileSystem abstracts read access below the watched root. Paths are
// canonical: relative to the root, slash separated.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (FileInfo, error)
	ReadDir(path string) ([]DirEntry, error)
}
