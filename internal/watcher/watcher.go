// Package watcher reports changes under the plugin directories and to the
// configuration file, debounced into batches.
package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is used when New is given a non-positive debounce.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches directories recursively and single files, and calls
// onChange with the changed paths once events stop arriving for the debounce
// interval.
type Watcher struct {
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	onChange func(paths []string)
	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]struct{}
	files   map[string]struct{} // watched single files, absolute
	dirs    map[string]struct{} // recursively watched roots, absolute
	stopped bool

	stopCh chan struct{}
	done   chan struct{}
}

// New creates a watcher and starts its event loop.
func New(logger zerolog.Logger, debounce time.Duration, onChange func(paths []string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		watcher:  fw,
		logger:   logger.With().Str("component", "watcher").Logger(),
		onChange: onChange,
		debounce: debounce,
		pending:  make(map[string]struct{}),
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// WatchDir watches dir and every directory below it. Directories created
// later are added as they appear. A missing dir is skipped with a warning.
func (w *Watcher) WatchDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn().Str("dir", abs).Msg("Directory does not exist, not watching")
		return nil
	}

	w.mu.Lock()
	w.dirs[abs] = struct{}{}
	w.mu.Unlock()
	return w.addTree(abs)
}

// WatchFile watches a single file. Its directory is watched so that editors
// and atomic renames replacing the file are seen.
func (w *Watcher) WatchFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.files[abs] = struct{}{}
	w.mu.Unlock()

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return w.watcher.Add(dir)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignored(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.logger.Debug().Str("dir", path).Msg("Watching directory")
		return nil
	})
}

// Stop stops the watcher and waits for the event loop to exit. A pending
// batch is dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.stopCh)
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("File watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if ignored(filepath.Base(event.Name)) {
		return
	}

	path := event.Name
	if !w.relevant(path) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addTree(path); err != nil {
				w.logger.Warn().Err(err).Str("dir", path).Msg("Failed to watch new directory")
			}
		}
	}

	w.logger.Debug().
		Str("file", path).
		Str("op", event.Op.String()).
		Msg("File change detected")
	w.schedule(path)
}

// relevant reports whether path is a watched file or lies under a watched
// directory.
func (w *Watcher) relevant(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.files[path]; ok {
		return true
	}
	for dir := range w.dirs {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// schedule debounces the change notification
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.stopped || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	sort.Strings(paths)
	w.logger.Debug().Strs("paths", paths).Msg("Changes settled")
	w.onChange(paths)
}

// ignored skips hidden files, editor swap files and temporary files written
// during atomic saves.
func ignored(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") ||
		strings.HasSuffix(name, ".tmp")
}
