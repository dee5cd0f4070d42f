package backendserver

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFilesPutGetDeleteRoundTrip(t *testing.T) {
	s := newTestServer(t)
	r := s.router()

	putReq := httptest.NewRequest(http.MethodPut, "/api/files/uploaded.txt", strings.NewReader("payload"))
	putRec := httptest.NewRecorder()
	r.ServeHTTP(putRec, putReq)
	if putRec.Code != http.StatusNoContent {
		t.Fatalf("PUT: expected 204, got %d: %s", putRec.Code, putRec.Body.String())
	}

	getRec := httptest.NewRecorder()
	r.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/api/files/uploaded.txt", nil))
	if getRec.Code != http.StatusOK || getRec.Body.String() != "payload" {
		t.Fatalf("GET: expected payload, got %d %q", getRec.Code, getRec.Body.String())
	}

	delRec := httptest.NewRecorder()
	r.ServeHTTP(delRec, httptest.NewRequest(http.MethodDelete, "/api/files/uploaded.txt", nil))
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("DELETE: expected 204, got %d", delRec.Code)
	}

	getAfterDelete := httptest.NewRecorder()
	r.ServeHTTP(getAfterDelete, httptest.NewRequest(http.MethodGet, "/api/files/uploaded.txt", nil))
	if getAfterDelete.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", getAfterDelete.Code)
	}
}

func TestFilesPutRejectsOversizedBody(t *testing.T) {
	s := newTestServer(t)
	s.cfg.MaxUploadBytes = 4
	r := s.router()

	req := httptest.NewRequest(http.MethodPut, "/api/files/big.txt", strings.NewReader("way too much data"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFilesPutRejectsPathEscape(t *testing.T) {
	s := newTestServer(t)
	r := s.router()

	req := httptest.NewRequest(http.MethodPut, "/api/files/../../escaped.txt", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for path escape attempt, got %d", rec.Code)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(s.cfg.Backend.DocRoot), "escaped.txt")); err == nil {
		t.Fatalf("upload escaped the document root")
	}
}
