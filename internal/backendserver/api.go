package backendserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nilsbr/rushd/internal/backend"
	"github.com/nilsbr/rushd/internal/requestlog"
	"github.com/nilsbr/rushd/internal/version"
)

// healthResponse is intentionally minimal: /api/health must stay public and
// cheap, since it is polled unauthenticated by the proxy and by operators.
type healthResponse struct {
	Status string `json:"status"`
}

type statusResponse struct {
	Name      string    `json:"name"`
	Port      int       `json:"port"`
	Status    string    `json:"status"`
	UseTLS    bool      `json:"use_tls"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

type infoResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

func (s *Server) registerAPI(r chi.Router) {
	// /api/health is registered separately by the caller, ahead of the auth
	// middleware group, and must not be re-registered here.
	r.Get("/api/ping", s.handlePing)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/info", s.handleInfo)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/logs/raw", s.handleLogsRaw)
	r.Handle("/api/metrics", promhttp.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	b := s.currentBackend()
	writeJSON(w, http.StatusOK, statusResponse{
		Name:      b.Name,
		Port:      b.Port,
		Status:    string(b.Status),
		UseTLS:    b.UseTLS,
		CreatedAt: b.CreatedAt,
		StartedAt: b.StartedAt,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Version:   version.Version,
		Commit:    version.Commit,
		BuildDate: version.BuildDate,
		GoVersion: version.GoVersion,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var snap requestlog.Stats
	if s.cfg.RequestLog != nil {
		snap = s.cfg.RequestLog.Stats()
	}
	writeJSON(w, http.StatusOK, &snap)
}

// handleLogsRaw streams the backend's current access log file verbatim:
// the raw JSON-lines content, served as application/x-ndjson rather than
// wrapped in a JSON response.
func (s *Server) handleLogsRaw(w http.ResponseWriter, r *http.Request) {
	if s.cfg.RequestLog == nil {
		http.Error(w, "logging disabled for this backend", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	if err := s.cfg.RequestLog.WriteRawTo(w); err != nil {
		http.Error(w, "read log: "+err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) currentBackend() backend.Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Backend
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
