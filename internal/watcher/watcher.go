// Package watcher turns filesystem notifications for the watched root
// into ordered, coalesced change events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/CageChen/markkeep/internal/config"
	mfs "github.com/CageChen/markkeep/internal/fs"
	"github.com/fsnotify/fsnotify"
)

// Watcher monitors file system changes below the configured root
type Watcher struct {
	watcher   *fsnotify.Watcher
	cfg       *config.Config
	debouncer *Debouncer
	logger    *slog.Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New subscribes to the configured root. It fails when the root is
// missing, is not a directory, or cannot be watched; the caller must not
// serve traffic without a working subscription.
func New(cfg *config.Config, logger *slog.Logger) (*Watcher, error) {
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", cfg.Root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := fsw.Add(cfg.Root); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", cfg.Root, err)
	}

	w := &Watcher{
		watcher:   fsw,
		cfg:       cfg,
		debouncer: NewDebouncer(cfg.Debounce, cfg.MaxWait),
		logger:    logger,
		done:      make(chan struct{}),
	}

	if cfg.Recursive {
		w.addTree(cfg.Root, false)
	}
	return w, nil
}

// Batches returns the channel of coalesced events
func (w *Watcher) Batches() <-chan Batch {
	return w.debouncer.Output()
}

// Start begins delivering events
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.eventLoop()
}

// Flush hands every event observed so far to the consumer and waits
// until it has applied them
func (w *Watcher) Flush(ctx context.Context) error {
	return w.debouncer.Flush(ctx)
}

// Stop closes the subscription and waits for the event loop to exit.
// Events not yet handed to the consumer are dropped.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
		w.debouncer.Close()
	})
	return err
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watcher event queue overflowed, rescanning")
				w.debouncer.Add(Event{Kind: Rescan})
				continue
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Name == w.cfg.Root {
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			w.logger.Error("watched root was removed", "root", w.cfg.Root)
			w.debouncer.Add(Event{Kind: Rescan})
		}
		return
	}

	rel, err := mfs.Rel(w.cfg.Root, event.Name)
	if err != nil {
		return
	}

	// Skip excluded paths
	if w.cfg.IsExcluded(rel) {
		return
	}

	var kind Kind
	switch {
	case event.Has(fsnotify.Create):
		// If a new directory is created, watch it
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if w.cfg.Recursive {
				w.addTree(event.Name, true)
			}
			return
		}
		kind = Created
	case event.Has(fsnotify.Write):
		kind = Modified
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// A vanished extension-less name may have been a directory full
		// of tracked files
		if w.cfg.Recursive && filepath.Ext(rel) == "" {
			w.debouncer.Add(Event{Kind: Rescan})
			return
		}
		kind = Removed
	default:
		return
	}

	// Only process tracked files
	if !w.cfg.HasTrackedExtension(rel) {
		return
	}

	w.logger.Debug("file event", "path", rel, "kind", kind.String(), "op", event.Op.String())
	w.debouncer.Add(Event{Kind: kind, Path: rel})
}

// addTree watches dir and every non-excluded directory below it. When
// emit is set, tracked files already present are reported as created,
// covering files that landed before the watch was in place.
func (w *Watcher) addTree(dir string, emit bool) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := mfs.Rel(w.cfg.Root, path)
		if relErr == nil && w.cfg.IsExcluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == w.cfg.Root {
				return nil
			}
			if err := w.watcher.Add(path); err != nil {
				w.logger.Warn("cannot watch directory", "path", path, "error", err)
			}
			return nil
		}

		if emit && relErr == nil && w.cfg.IsTracked(rel) {
			w.debouncer.Add(Event{Kind: Created, Path: rel})
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("failed to walk directory", "path", dir, "error", err)
	}
}
