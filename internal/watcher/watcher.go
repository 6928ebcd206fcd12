// Package watcher bridges filesystem notifications into sync engine events.
// It watches drive roots recursively and dispatches file and folder events
// to a Handler, typically the engine service.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Handler receives classified filesystem events. The engine service
// implements this interface.
type Handler interface {
	OnFileAdded(path string)
	OnFileChanged(path string)
	OnFileRemoved(path string)
	OnFolderAdded(path string)
	OnFolderRemoved(path string)
}

// Logger is the subset of logging the watcher needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Watcher monitors one or more root directories recursively and forwards
// events to a Handler. fsnotify does not watch recursively on its own, so
// every subdirectory is added individually and new subdirectories are
// picked up from create events.
type Watcher struct {
	fs      *fsnotify.Watcher
	handler Handler
	logger  Logger

	mu      sync.Mutex
	dirs    map[string]bool // known directories, for remove disambiguation
	running bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Watcher that dispatches to handler.
func New(handler Handler, logger Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fs:      fs,
		handler: handler,
		logger:  logger,
		dirs:    make(map[string]bool),
		done:    make(chan struct{}),
	}, nil
}

// AddRoot starts watching root and all of its subdirectories. Can be
// called before or after Start.
func (w *Watcher) AddRoot(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHiddenName(d.Name()) {
			return filepath.SkipDir
		}
		return w.watchDir(path)
	})
}

// Start begins dispatching events. Stop must be called to release the
// underlying watcher.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	w.running = true

	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching and blocks until the event loop has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.fs.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) watchDir(path string) error {
	if err := w.fs.Add(path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	w.mu.Lock()
	w.dirs[path] = true
	w.mu.Unlock()
	return nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.dispatch(event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// dispatch classifies one fsnotify event and forwards it to the handler.
// Remove and rename events carry no file info, so the directory set built
// from earlier events decides whether the path was a folder.
func (w *Watcher) dispatch(event fsnotify.Event) {
	path := event.Name
	if isHiddenName(filepath.Base(path)) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			// Gone already; a remove event will follow if it mattered.
			return
		}
		if info.IsDir() {
			if err := w.AddRoot(path); err != nil {
				w.logger.Warn("failed to watch new directory", "path", path, "error", err)
			}
			w.handler.OnFolderAdded(path)
		} else {
			w.handler.OnFileAdded(path)
		}

	case event.Has(fsnotify.Write):
		w.handler.OnFileChanged(path)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// A rename reports the old path; the new path arrives as a
		// separate create event.
		w.mu.Lock()
		wasDir := w.dirs[path]
		if wasDir {
			for dir := range w.dirs {
				if dir == path || strings.HasPrefix(dir, path+string(filepath.Separator)) {
					delete(w.dirs, dir)
				}
			}
		}
		w.mu.Unlock()

		if wasDir {
			w.handler.OnFolderRemoved(path)
		} else {
			w.handler.OnFileRemoved(path)
		}

	default:
		// Chmod and other events are ignored.
		w.logger.Debug("ignoring event", "op", event.Op.String(), "path", path)
	}
}

func isHiddenName(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
