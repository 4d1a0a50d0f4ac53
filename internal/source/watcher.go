package source

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"gitsync/pkg/logging"
)

// ChangeEvent reports that the directory of an application changed.
type ChangeEvent struct {
	Application string
	Path        string
	Timestamp   time.Time
}

// Watcher turns filesystem changes below directory sources into debounced
// per-application change events.
type Watcher struct {
	mu sync.Mutex

	watcher          *fsnotify.Watcher
	debounceInterval time.Duration

	// roots maps application name to the watched directory.
	roots map[string]string

	pending map[string]*time.Timer
	stopCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher. A zero interval defaults to 500ms.
func NewWatcher(debounceInterval time.Duration) *Watcher {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}
	return &Watcher{
		debounceInterval: debounceInterval,
		roots:            make(map[string]string),
		pending:          make(map[string]*time.Timer),
		stopCh:           make(chan struct{}),
	}
}

// Start begins delivering events to changes until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context, changes chan<- ChangeEvent) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	w.running = true
	w.stopCh = make(chan struct{})
	roots := make([]string, 0, len(w.roots))
	for _, root := range w.roots {
		roots = append(roots, root)
	}
	w.mu.Unlock()

	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			logging.Warn("Source", "Failed to watch %s: %v", root, err)
		}
	}

	go w.processEvents(ctx, changes)
	logging.Info("Source", "Started watching %d source directories", len(roots))
	return nil
}

// Watch registers the directory of an application. It can be called before
// or after Start.
func (w *Watcher) Watch(app, dir string) error {
	dir = filepath.Clean(dir)
	w.mu.Lock()
	w.roots[app] = dir
	running := w.running
	w.mu.Unlock()

	if running {
		return w.addTree(dir)
	}
	return nil
}

// Unwatch forgets an application. Directory watches shared with other
// applications stay in place.
func (w *Watcher) Unwatch(app string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.roots, app)
	if t, ok := w.pending[app]; ok {
		t.Stop()
		delete(w.pending, app)
	}
}

// addTree watches dir and every non-hidden subdirectory; fsnotify is not recursive.
func (w *Watcher) addTree(dir string) error {
	w.mu.Lock()
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		logging.Debug("Source", "Watching directory: %s", path)
		return fw.Add(path)
	})
}

func (w *Watcher) processEvents(ctx context.Context, changes chan<- ChangeEvent) {
	w.mu.Lock()
	fw, stopCh := w.watcher, w.stopCh
	w.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			w.cleanupPending()
			return
		case <-stopCh:
			w.cleanupPending()
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event, changes)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logging.Error("Source", err, "Filesystem watcher error")
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event, changes chan<- ChangeEvent) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				logging.Warn("Source", "Failed to watch new directory %s: %v", event.Name, err)
			}
			return
		}
	}
	if !isYAMLFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	for _, app := range w.appsFor(event.Name) {
		w.debounce(ChangeEvent{Application: app, Path: event.Name, Timestamp: time.Now()}, changes)
	}
}

func (w *Watcher) appsFor(path string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var apps []string
	for app, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			apps = append(apps, app)
		}
	}
	return apps
}

// debounce collapses a burst of changes for one application into one event.
func (w *Watcher) debounce(event ChangeEvent, changes chan<- ChangeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[event.Application]; ok {
		t.Stop()
	}
	w.pending[event.Application] = time.AfterFunc(w.debounceInterval, func() {
		w.mu.Lock()
		delete(w.pending, event.Application)
		w.mu.Unlock()

		select {
		case changes <- event:
			logging.Debug("Source", "Emitted change event for %s (%s)", event.Application, event.Path)
		default:
			logging.Warn("Source", "Change event channel full, dropping event for %s", event.Application)
		}
	})
}

func (w *Watcher) cleanupPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = make(map[string]*time.Timer)
}

// Stop ends event delivery and releases the fsnotify watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)

	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
		w.watcher = nil
	}
	logging.Info("Source", "Stopped source watcher")
	return err
}
