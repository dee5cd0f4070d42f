// Package hotreload watches a backend's document root for file changes and
// fans them out to subscribed browser clients over WebSocket, mirroring the
// original watchdog manager's debounced fsnotify-driven reload events.
package hotreload

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nilsbr/rushd/internal/apperr"
	"github.com/nilsbr/rushd/internal/logger"
)

// webRelevantExt lists the file extensions worth pushing a reload event
// for; anything else (swap files, source maps nobody serves, etc.) is noise.
var webRelevantExt = map[string]bool{
	"html": true, "css": true, "js": true, "json": true,
	"txt": true, "md": true, "svg": true,
	"png": true, "jpg": true, "jpeg": true, "gif": true, "ico": true,
}

// ChangeEvent describes one coalesced filesystem change for a backend's
// document root.
type ChangeEvent struct {
	EventType     string    `json:"event_type"` // "created" | "modified" | "deleted"
	FilePath      string    `json:"file_path"`
	BackendName   string    `json:"server_name"`
	Port          int       `json:"port"`
	Timestamp     time.Time `json:"timestamp"`
	FileExtension string    `json:"file_extension,omitempty"`
}

// debounceWindow matches the 250ms coalescing window used elsewhere in the
// hot-reload pipeline: editors commonly emit write+chmod+rename in quick
// succession for a single logical save.
const debounceWindow = 250 * time.Millisecond

// Watcher watches one or more backend document roots and emits a coalesced
// ChangeEvent per underlying fsnotify burst.
type Watcher struct {
	log    logger.Logger
	hub    *Hub
	fsw    *fsnotify.Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]ChangeEvent
	roots   map[string]rootInfo // watched dir -> backend identity

	done chan struct{}
}

type rootInfo struct {
	backendName string
	port        int
}

// NewWatcher creates a Watcher that publishes coalesced events to hub.
func NewWatcher(hub *Hub, log logger.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrInternal, "create fsnotify watcher", err)
	}
	w := &Watcher{
		log:     log,
		hub:     hub,
		fsw:     fsw,
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]ChangeEvent),
		roots:   make(map[string]rootInfo),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Watch starts watching root (a backend's document root), tagging emitted
// events with backendName/port. Only root's own directory is watched: no
// watch is added for its subdirectories, so changes inside them produce
// no events.
func (w *Watcher) Watch(root, backendName string, port int) error {
	if err := w.fsw.Add(root); err != nil {
		return apperr.Wrap(apperr.ErrInternal, "watch "+root, err)
	}

	w.mu.Lock()
	w.roots[root] = rootInfo{backendName: backendName, port: port}
	w.mu.Unlock()
	return nil
}

// Unwatch stops watching root.
func (w *Watcher) Unwatch(root string) error {
	w.mu.Lock()
	delete(w.roots, root)
	w.mu.Unlock()
	return w.fsw.Remove(root)
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", logger.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.Contains(name, ".tmp") || strings.Contains(name, ".swp") {
		return
	}

	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if !webRelevantExt[ext] {
		return
	}

	var eventType string
	switch {
	case ev.Op&fsnotify.Create != 0:
		eventType = "created"
	case ev.Op&fsnotify.Write != 0 || ev.Op&fsnotify.Chmod != 0:
		eventType = "modified"
	case ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0:
		eventType = "deleted"
	default:
		return
	}

	w.mu.Lock()
	root := findRoot(w.roots, ev.Name)
	info, ok := w.roots[root]
	w.mu.Unlock()
	if !ok {
		return
	}

	change := ChangeEvent{
		EventType:     eventType,
		FilePath:      ev.Name,
		BackendName:   info.backendName,
		Port:          info.port,
		Timestamp:     time.Now(),
		FileExtension: ext,
	}

	w.mu.Lock()
	w.pending[ev.Name] = change
	if t, ok := w.timers[ev.Name]; ok {
		t.Stop()
	}
	w.timers[ev.Name] = time.AfterFunc(debounceWindow, func() {
		w.flush(ev.Name)
	})
	w.mu.Unlock()
}

func (w *Watcher) flush(path string) {
	w.mu.Lock()
	change, ok := w.pending[path]
	delete(w.pending, path)
	delete(w.timers, path)
	w.mu.Unlock()
	if !ok {
		return
	}
	w.hub.Broadcast(change)
}

func findRoot(roots map[string]rootInfo, changedPath string) string {
	best := ""
	for root := range roots {
		if strings.HasPrefix(changedPath, root) && len(root) > len(best) {
			best = root
		}
	}
	return best
}
