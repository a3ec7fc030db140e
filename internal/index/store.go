// Package index holds the in-memory view of the watched directory: the
// Store that queries read from and the Updater that keeps it in line
// with the filesystem.
package index

import (
	"sort"
	"sync"
	"time"

	"github.com/CageChen/markkeep/internal/markdown"
	"github.com/cespare/xxhash/v2"
)

// TrackedFile is the indexed state of one file. Values handed out by the
// Store are snapshots; the Store never mutates a published value.
type TrackedFile struct {
	Path    string // canonical, relative to the root
	Content string // raw content as read from disk

	// Generation comes from a store-wide sequence, so it strictly
	// increases for a path across updates and re-creations.
	Generation uint64
	Checksum   uint64

	Frontmatter map[string]any // nil when the file has none
	Title       string
	OneLiner    string
	Headings    []markdown.Heading

	Created  time.Time // mtime observed when the entry was first added
	Modified time.Time // mtime at the last successful read
}

// FileMeta carries what the updater derived from a read alongside the
// content.
type FileMeta struct {
	ModTime     time.Time
	Frontmatter map[string]any
	Outline     markdown.Outline
}

// ChangeKind tells subscribers what happened to a path
type ChangeKind int

// Store change kinds.
const (
	Upserted ChangeKind = iota
	Deleted
)

func (k ChangeKind) String() string {
	if k == Deleted {
		return "remove"
	}
	return "upsert"
}

// Change describes one applied store mutation
type Change struct {
	Kind       ChangeKind
	Path       string
	Generation uint64
}

// Store maps canonical paths to tracked files. It is safe for one writer
// and any number of concurrent readers; a read that starts after a write
// returned observes that write.
type Store struct {
	mu    sync.RWMutex
	files map[string]*TrackedFile
	seq   uint64

	cbMu      sync.RWMutex
	callbacks []func(Change)
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		files: make(map[string]*TrackedFile),
	}
}

// OnChange registers a callback run after every applied mutation. Callbacks
// run on the writer's goroutine, outside the store lock.
func (s *Store) OnChange(cb func(Change)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Get returns the tracked file at path
func (s *Store) Get(path string) (TrackedFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[path]
	if !ok {
		return TrackedFile{}, false
	}
	return *f, true
}

// Upsert publishes new content for path. Content identical to the current
// entry is a no-op and reports false, leaving the generation untouched.
func (s *Store) Upsert(path, content string, meta FileMeta) (TrackedFile, bool) {
	sum := xxhash.Sum64String(content)

	s.mu.Lock()
	existing, ok := s.files[path]
	if ok && existing.Checksum == sum && existing.Content == content {
		s.mu.Unlock()
		return *existing, false
	}

	created := meta.ModTime
	if ok {
		created = existing.Created
	}
	if created.IsZero() {
		created = time.Now()
	}

	s.seq++
	f := &TrackedFile{
		Path:        path,
		Content:     content,
		Generation:  s.seq,
		Checksum:    sum,
		Frontmatter: meta.Frontmatter,
		Title:       meta.Outline.Title,
		OneLiner:    meta.Outline.OneLiner,
		Headings:    meta.Outline.Headings,
		Created:     created,
		Modified:    meta.ModTime,
	}
	s.files[path] = f
	s.mu.Unlock()

	s.notify(Change{Kind: Upserted, Path: path, Generation: f.Generation})
	return *f, true
}

// Remove deletes the entry at path, reporting whether one existed
func (s *Store) Remove(path string) bool {
	s.mu.Lock()
	f, ok := s.files[path]
	if ok {
		delete(s.files, path)
	}
	s.mu.Unlock()

	if ok {
		s.notify(Change{Kind: Deleted, Path: path, Generation: f.Generation})
	}
	return ok
}

// List returns a snapshot of every tracked file ordered by path
func (s *Store) List() []TrackedFile {
	s.mu.RLock()
	files := make([]TrackedFile, 0, len(s.files))
	for _, f := range s.files {
		files = append(files, *f)
	}
	s.mu.RUnlock()

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files
}

// Paths returns the tracked paths in sorted order
func (s *Store) Paths() []string {
	s.mu.RLock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	s.mu.RUnlock()

	sort.Strings(paths)
	return paths
}

// Len returns the number of tracked files
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

func (s *Store) notify(c Change) {
	s.cbMu.RLock()
	callbacks := make([]func(Change), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.cbMu.RUnlock()

	for _, cb := range callbacks {
		cb(c)
	}
}
