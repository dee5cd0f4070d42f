package backendserver

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

// registerFiles wires the bounded file-upload API. All three verbs reuse
// staticHandler.resolve so the same root-containment check protects
// uploads and deletes, not just reads.
func (s *Server) registerFiles(r chi.Router) {
	r.Get("/api/files/*", s.handleFileGet)
	r.Put("/api/files/*", s.handleFilePut)
	r.Delete("/api/files/*", s.handleFileDelete)
}

func (s *Server) resolveUploadPath(r *http.Request) (string, bool) {
	rel := chi.URLParam(r, "*")
	return s.static.resolve("/" + rel)
}

func (s *Server) handleFileGet(w http.ResponseWriter, r *http.Request) {
	path, ok := s.resolveUploadPath(r)
	if !ok {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, path, info.ModTime(), f)
}

// handleFilePut writes the request body to path, capped at
// MaxUploadBytes so a single upload can't exhaust disk or memory.
func (s *Server) handleFilePut(w http.ResponseWriter, r *http.Request) {
	path, ok := s.resolveUploadPath(r)
	if !ok {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		http.Error(w, "create directory: "+err.Error(), http.StatusInternalServerError)
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		http.Error(w, "open file: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	limit := s.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = 32 << 20
	}
	body := http.MaxBytesReader(w, r.Body, limit)

	if _, err := io.Copy(f, body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "upload exceeds configured limit", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "write file: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	path, ok := s.resolveUploadPath(r)
	if !ok {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "delete file: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
