package index

import (
	"context"
	"errors"
	iofs "io/fs"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/CageChen/markkeep/internal/config"
	mfs "github.com/CageChen/markkeep/internal/fs"
	"github.com/CageChen/markkeep/internal/markdown"
	"github.com/CageChen/markkeep/internal/watcher"
	"github.com/cespare/xxhash/v2"
)

// SyncResult holds the outcome of a full reconcile
type SyncResult struct {
	Added    int // on disk, not in the store
	Updated  int // content changed since the last read
	Removed  int // in the store, gone from disk
	Duration time.Duration
}

// Updater is the only writer of a Store. It applies change events one at
// a time by reading the affected file.
type Updater struct {
	store  *Store
	fs     mfs.FileSystem
	cfg    *config.Config
	parser *markdown.Parser
	logger *slog.Logger
}

// NewUpdater creates an updater reading through fsys
func NewUpdater(store *Store, fsys mfs.FileSystem, cfg *config.Config, logger *slog.Logger) *Updater {
	return &Updater{
		store:  store,
		fs:     fsys,
		cfg:    cfg,
		parser: markdown.NewParser(),
		logger: logger,
	}
}

// Run applies batches until ctx is cancelled or the channel closes. A
// batch that has started is always applied completely.
func (u *Updater) Run(ctx context.Context, batches <-chan watcher.Batch) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			for _, ev := range batch.Events {
				u.Apply(ev)
			}
			batch.Done()
		}
	}
}

// Apply brings the store in line with one event
func (u *Updater) Apply(ev watcher.Event) {
	switch ev.Kind {
	case watcher.Created, watcher.Modified:
		u.refresh(ev.Path)
	case watcher.Removed:
		u.remove(ev.Path, "file removed")
	case watcher.Rescan:
		u.Resync()
	}
}

// refresh re-reads path. Whenever the file turns out to be gone the event
// is handled as a removal.
func (u *Updater) refresh(path string) {
	if !u.cfg.IsTracked(path) {
		u.remove(path, "path no longer tracked")
		return
	}

	info, err := u.fs.Stat(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			u.remove(path, "file vanished before read")
			return
		}
		u.logger.Warn("cannot stat file", "path", path, "error", err)
		return
	}
	if info.IsDir {
		u.remove(path, "path is a directory")
		return
	}
	if info.Size > u.cfg.MaxFileSize {
		u.logger.Warn("file too large to track", "path", path, "size", info.Size, "max", u.cfg.MaxFileSize)
		u.remove(path, "file too large")
		return
	}

	data, err := u.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			u.remove(path, "file vanished during read")
			return
		}
		if _, statErr := u.fs.Stat(path); errors.Is(statErr, iofs.ErrNotExist) {
			u.remove(path, "file vanished during read")
			return
		}
		u.logger.Warn("cannot read file, keeping previous state", "path", path, "error", err)
		return
	}
	if int64(len(data)) > u.cfg.MaxFileSize {
		u.remove(path, "file too large")
		return
	}
	if !utf8.Valid(data) {
		u.logger.Warn("file is not valid UTF-8", "path", path)
		u.remove(path, "invalid UTF-8")
		return
	}

	content := string(data)
	if existing, ok := u.store.Get(path); ok && existing.Checksum == xxhash.Sum64(data) && existing.Content == content {
		return
	}

	doc, err := markdown.SplitFrontmatter(content)
	if err != nil {
		u.logger.Warn("invalid front matter", "path", path, "error", err)
	}
	meta := FileMeta{
		ModTime:     info.ModTime,
		Frontmatter: doc.Frontmatter,
		Outline:     u.parser.Outline([]byte(doc.Body)),
	}

	if f, changed := u.store.Upsert(path, content, meta); changed {
		u.logger.Debug("file indexed", "path", path, "generation", f.Generation, "bytes", len(data))
	}
}

func (u *Updater) remove(path, reason string) {
	if u.store.Remove(path) {
		u.logger.Debug("file dropped", "path", path, "reason", reason)
	}
}

// Resync compares the root with the store, indexing missing and changed
// files and dropping stale entries. It builds the initial index and
// recovers from missed events.
func (u *Updater) Resync() SyncResult {
	start := time.Now()
	var result SyncResult

	disk := make(map[string]struct{})
	if err := u.walk("", disk); err != nil {
		u.logger.Error("cannot list watched root", "root", u.cfg.Root, "error", err)
	}

	for path := range disk {
		before, existed := u.store.Get(path)
		u.refresh(path)
		after, exists := u.store.Get(path)
		switch {
		case !existed && exists:
			result.Added++
		case existed && exists && after.Generation != before.Generation:
			result.Updated++
		case existed && !exists:
			result.Removed++
		}
	}

	for _, path := range u.store.Paths() {
		if _, ok := disk[path]; !ok {
			u.remove(path, "stale entry")
			result.Removed++
		}
	}

	result.Duration = time.Since(start)
	u.logger.Info("index synchronized",
		"files", u.store.Len(),
		"added", result.Added,
		"updated", result.Updated,
		"removed", result.Removed,
		"duration", result.Duration,
	)
	return result
}

// walk collects tracked file paths below dir into out
func (u *Updater) walk(dir string, out map[string]struct{}) error {
	entries, err := u.fs.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		rel := mfs.Join(dir, e.Name)
		if u.cfg.IsExcluded(rel) {
			continue
		}
		if e.IsDir {
			if !u.cfg.Recursive {
				continue
			}
			if err := u.walk(rel, out); err != nil {
				u.logger.Warn("cannot list directory", "path", rel, "error", err)
			}
			continue
		}
		if u.cfg.HasTrackedExtension(rel) {
			out[rel] = struct{}{}
		}
	}
	return nil
}
