// Package configwatch watches tenant config-overlay files (openclaw.json)
// for out-of-band edits and invalidates an in-memory cache of them. Adapted
// from the theme hot-reload watcher in the TUI styles package: watch the
// containing directory rather than the file itself, since editors doing
// atomic saves rename a temp file onto the target path.
package configwatch

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDuration = 500 * time.Millisecond

// Watcher watches a set of tenant config-overlay paths and calls onChanged
// with the tenant id whenever the corresponding file is written, created,
// renamed onto, or removed.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	byPath   map[string]string // cleaned config path -> tenantId
	dirRefs  map[string]int    // watched dir -> number of tenants relying on it
	stopChan chan struct{}

	onChanged func(tenantID string)
}

func New(onChanged func(tenantID string)) *Watcher {
	return &Watcher{
		byPath:    map[string]string{},
		dirRefs:   map[string]int{},
		onChanged: onChanged,
	}
}

// Start initializes the underlying fsnotify watcher and begins the event
// loop. Must be called before Add.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	w.stopChan = make(chan struct{})

	go w.loop()
	return nil
}

// Add begins watching tenantID's config overlay at path.
func (w *Watcher) Add(tenantID, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return nil
	}

	cleaned := filepath.Clean(path)
	w.byPath[cleaned] = tenantID

	dir := filepath.Dir(cleaned)
	if w.dirRefs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}
	w.dirRefs[dir]++
	return nil
}

// Remove stops watching tenantID's config overlay at path, e.g. on tenant
// removal.
func (w *Watcher) Remove(tenantID, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cleaned := filepath.Clean(path)
	delete(w.byPath, cleaned)

	dir := filepath.Dir(cleaned)
	w.dirRefs[dir]--
	if w.dirRefs[dir] <= 0 {
		delete(w.dirRefs, dir)
		if w.watcher != nil {
			_ = w.watcher.Remove(dir)
		}
	}
}

// Stop tears down the watcher and its event loop.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopChan != nil {
		close(w.stopChan)
		w.stopChan = nil
	}
	if w.watcher != nil {
		_ = w.watcher.Close()
		w.watcher = nil
	}
}

func (w *Watcher) loop() {
	w.mu.Lock()
	fw := w.watcher
	stopChan := w.stopChan
	w.mu.Unlock()
	if fw == nil {
		return
	}

	debounce := map[string]*time.Timer{}
	var debounceMu sync.Mutex

	for {
		select {
		case <-stopChan:
			debounceMu.Lock()
			for _, t := range debounce {
				t.Stop()
			}
			debounceMu.Unlock()
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}

			cleaned := filepath.Clean(event.Name)

			w.mu.Lock()
			tenantID, known := w.byPath[cleaned]
			w.mu.Unlock()
			if !known {
				continue
			}

			debounceMu.Lock()
			if t, exists := debounce[cleaned]; exists {
				t.Stop()
			}
			debounce[cleaned] = time.AfterFunc(debounceDuration, func() {
				if w.onChanged != nil {
					w.onChanged(tenantID)
				}
			})
			debounceMu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			slog.Warn("config overlay watcher error", "error", err)
		}
	}
}
