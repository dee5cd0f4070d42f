package backendserver

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestDocRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html><body>home</body></html>"), 0o644); err != nil {
		t.Fatalf("write index.html: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plain.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write plain.txt: %v", err)
	}
	return dir
}

func TestStaticHandlerServesIndexForRoot(t *testing.T) {
	h := newStaticHandler(newTestDocRoot(t), "/ws/hot-reload", TemplateValues{ServerName: "site-a"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "home") {
		t.Fatalf("expected index contents, got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "/ws/hot-reload") {
		t.Fatalf("expected hot-reload snippet injected, got %s", rec.Body.String())
	}
}

func TestStaticHandlerServesPlainFileUnmodified(t *testing.T) {
	h := newStaticHandler(newTestDocRoot(t), "/ws/hot-reload", TemplateValues{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plain.txt", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("expected unmodified contents, got %q", rec.Body.String())
	}
}

func TestStaticHandlerRejectsPathTraversal(t *testing.T) {
	h := newStaticHandler(newTestDocRoot(t), "/ws/hot-reload", TemplateValues{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/../../../etc/passwd", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for traversal attempt, got %d", rec.Code)
	}
}

func TestStaticHandlerMissingFileIs404(t *testing.T) {
	h := newStaticHandler(newTestDocRoot(t), "/ws/hot-reload", TemplateValues{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope.html", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
