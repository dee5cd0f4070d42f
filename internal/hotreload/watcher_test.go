package hotreload

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"

	"github.com/nilsbr/rushd/internal/logger"
)

func TestWatcherEmitsCoalescedEvent(t *testing.T) {
	dir := t.TempDir()
	log := logger.New("error", false)
	hub := NewHub(log)

	w, err := NewWatcher(hub, log)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := w.Watch(dir, "site", 9001); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?server=site:9001", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	path := filepath.Join(dir, "index.html")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The watcher goroutine runs asynchronously; give it time to notice and
	// debounce the write before asserting state. A real deployment tolerates
	// this the same way: hot reload is inherently eventual.
	conn.SetReadDeadline(time.Now().Add(debounceWindow + 2*time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a change event, got %v", err)
	}
	if !strings.Contains(string(msg), "index.html") {
		t.Fatalf("expected event for index.html, got %s", msg)
	}
	conn.SetReadDeadline(time.Now().Add(debounceWindow + 300*time.Millisecond))
	if _, extra, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the write burst coalesced into one event, got a second: %s", extra)
	}
}

func TestUnwatchStopsTracking(t *testing.T) {
	dir := t.TempDir()
	log := logger.New("error", false)
	hub := NewHub(log)
	w, err := NewWatcher(hub, log)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := w.Watch(dir, "site", 9001); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := w.Unwatch(dir); err != nil {
		t.Fatalf("Unwatch: %v", err)
	}

	w.mu.Lock()
	_, stillTracked := w.roots[dir]
	w.mu.Unlock()
	if stillTracked {
		t.Fatalf("expected root untracked after Unwatch")
	}
}

func TestHandleDropsExtensionlessFiles(t *testing.T) {
	dir := t.TempDir()
	log := logger.New("error", false)
	w, err := NewWatcher(NewHub(log), log)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := w.Watch(dir, "site", 9001); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	name := filepath.Join(dir, "Makefile")
	w.handle(fsnotify.Event{Name: name, Op: fsnotify.Write})

	w.mu.Lock()
	_, pending := w.pending[name]
	w.mu.Unlock()
	if pending {
		t.Fatalf("expected an extensionless file to be dropped, not queued")
	}
}

func TestHandleAcceptsWebRelevantExtension(t *testing.T) {
	dir := t.TempDir()
	log := logger.New("error", false)
	w, err := NewWatcher(NewHub(log), log)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := w.Watch(dir, "site", 9001); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	name := filepath.Join(dir, "index.html")
	w.handle(fsnotify.Event{Name: name, Op: fsnotify.Write})

	w.mu.Lock()
	_, pending := w.pending[name]
	w.mu.Unlock()
	if !pending {
		t.Fatalf("expected a web-relevant extension to be queued for debounce")
	}
}

func TestFindRootPicksLongestPrefix(t *testing.T) {
	roots := map[string]rootInfo{
		"/www":        {backendName: "outer", port: 1},
		"/www/nested": {backendName: "inner", port: 2},
	}
	got := findRoot(roots, "/www/nested/file.html")
	if got != "/www/nested" {
		t.Fatalf("expected longest-prefix match, got %q", got)
	}
}
