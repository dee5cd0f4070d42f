package backendserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// registerWS mounts the hot-reload WebSocket endpoint. No-op when the
// server wasn't given a hub (hot reload can be disabled per deployment).
func (s *Server) registerWS(r chi.Router) {
	if s.cfg.Hub == nil {
		return
	}
	r.Get(wsPath, func(w http.ResponseWriter, req *http.Request) {
		s.cfg.Hub.ServeWS(w, req)
	})
}
