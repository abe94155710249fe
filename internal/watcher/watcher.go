package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Watcher monitors an import directory for markdown files to turn into pages
type Watcher struct {
	rootPath        string
	watcher         *fsnotify.Watcher
	debouncer       *Debouncer
	ignorePatterns  []string
	includePatterns []string
	output          chan Event
	stopCh          chan struct{}
}

// NewWatcher creates a watcher over rootPath
func NewWatcher(rootPath string, debounce time.Duration, ignorePatterns, includePatterns []string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		rootPath:        rootPath,
		watcher:         fsWatcher,
		ignorePatterns:  ignorePatterns,
		includePatterns: includePatterns,
		output:          make(chan Event, 100),
		stopCh:          make(chan struct{}),
	}
	w.debouncer = NewDebouncer(debounce, w.emit)
	return w, nil
}

// Start begins watching the root directory and all subdirectories
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.rootPath); err != nil {
		return err
	}

	go w.processEvents(ctx)

	slog.Info("import watcher started",
		"path", w.rootPath,
		"ignore_patterns", len(w.ignorePatterns),
		"include_patterns", len(w.includePatterns))

	return nil
}

// Events returns the channel of debounced file events. Keys are paths
// relative to the root, with forward slashes.
func (w *Watcher) Events() <-chan Event {
	return w.output
}

// Stop stops the watcher and closes the event channel
func (w *Watcher) Stop() error {
	close(w.stopCh)
	w.debouncer.Stop()
	err := w.watcher.Close()
	close(w.output)
	return err
}

// Flush emits all pending debounced events
func (w *Watcher) Flush() {
	w.debouncer.Flush()
}

// Scan returns the relative paths of files already present that pass the
// include and ignore patterns, sorted.
func (w *Watcher) Scan() ([]string, error) {
	var paths []string
	err := doublestar.GlobWalk(os.DirFS(w.rootPath), "**", func(path string, d fs.DirEntry) error {
		if w.shouldIgnore(path) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() && w.shouldInclude(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.output <- ev:
	case <-w.stopCh:
	}
}

// addRecursive adds a directory and all subdirectories to the watcher
func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			slog.Warn("error walking path", "path", path, "error", err)
			return nil
		}

		relPath, _ := filepath.Rel(w.rootPath, path)
		relPath = filepath.ToSlash(relPath)

		if relPath != "." && w.shouldIgnore(relPath) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				slog.Warn("failed to watch directory", "path", path, "error", err)
			}
		}

		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			relPath, err := filepath.Rel(w.rootPath, event.Name)
			if err != nil {
				continue
			}
			relPath = filepath.ToSlash(relPath)

			if w.shouldIgnore(relPath) {
				continue
			}
			w.handleEvent(event, relPath)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, relPath string) {
	info, statErr := os.Stat(event.Name)
	isDir := statErr == nil && info.IsDir()

	switch {
	case event.Has(fsnotify.Create):
		if isDir {
			if err := w.addRecursive(event.Name); err != nil {
				slog.Warn("failed to add new directory", "path", event.Name, "error", err)
			}
			return
		}
		if w.shouldInclude(relPath) {
			w.debouncer.Add(relPath, EventCreate)
		}

	case event.Has(fsnotify.Write):
		if !isDir && w.shouldInclude(relPath) {
			w.debouncer.Add(relPath, EventModify)
		}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// the new name of a rename arrives as a create
		if w.shouldInclude(relPath) {
			w.debouncer.Add(relPath, EventDelete)
		}
	}
}

// shouldIgnore checks the path and each of its parents against the ignore patterns
func (w *Watcher) shouldIgnore(relPath string) bool {
	for _, pattern := range w.ignorePatterns {
		if matched, err := doublestar.Match(pattern, relPath); err == nil && matched {
			return true
		}

		parts := strings.Split(relPath, "/")
		for i := 1; i < len(parts); i++ {
			partial := strings.Join(parts[:i], "/")
			if matched, _ := doublestar.Match(pattern, partial); matched {
				return true
			}
		}
	}
	return false
}

// shouldInclude reports whether relPath matches an include pattern, or true
// when none are configured
func (w *Watcher) shouldInclude(relPath string) bool {
	if len(w.includePatterns) == 0 {
		return true
	}
	for _, pattern := range w.includePatterns {
		if matched, err := doublestar.Match(pattern, relPath); err == nil && matched {
			return true
		}
	}
	return false
}
