package backendserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nilsbr/rushd/internal/auth"
	"github.com/nilsbr/rushd/internal/backend"
	"github.com/nilsbr/rushd/internal/hotreload"
	"github.com/nilsbr/rushd/internal/logger"
	"github.com/nilsbr/rushd/internal/ratelimit"
	"github.com/nilsbr/rushd/internal/requestlog"
	"github.com/nilsbr/rushd/internal/security"
	"github.com/nilsbr/rushd/internal/tlsstore"
)

const wsPath = "/ws/hot-reload"

// Config holds everything one backend's HTTP(S) server needs. All fields
// except Backend and RequestLog are shared infrastructure injected once by
// the orchestrator and reused across every backend's Server; RequestLog is
// opened separately for each backend.
type Config struct {
	Backend backend.Backend

	BindAddress      string
	HTTPSPortOffset  int
	ProxyHTTPPort    int
	ProxyHTTPSPort   int
	ProductionDomain string
	MaxUploadBytes   int64

	Auth        *auth.Verifier
	RateLimiter *ratelimit.Limiter
	Certs       *tlsstore.Store
	Hub         *hotreload.Hub
	RequestLog  *requestlog.Logger
	Log         logger.Logger
}

// Server is one backend's document-root server: an HTTP listener and,
// when the backend is configured for TLS, a second HTTPS listener sharing
// the same router.
type Server struct {
	mu  sync.Mutex
	cfg Config

	static *staticHandler

	httpSrv  *http.Server
	httpsSrv *http.Server
}

// New builds (but does not start) a Server for cfg.Backend.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg}
	s.static = newStaticHandler(cfg.Backend.DocRoot, wsPath, TemplateValues{
		ServerName:     cfg.Backend.Name,
		Port:           cfg.Backend.Port,
		ProxyHTTPPort:  cfg.ProxyHTTPPort,
		ProxyHTTPSPort: cfg.ProxyHTTPSPort,
	})
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(security.Middleware)
	if s.cfg.RequestLog != nil {
		r.Use(requestlog.Middleware(s.cfg.RequestLog))
	}
	if s.cfg.RateLimiter != nil {
		r.Use(ratelimit.Middleware(s.cfg.RateLimiter))
	}

	// /api/health is the one endpoint that stays public even with an API
	// key configured, since the proxy and operators poll it unauthenticated.
	r.Get("/api/health", s.handleHealth)

	r.Group(func(pr chi.Router) {
		if s.cfg.Auth != nil {
			pr.Use(auth.Middleware(s.cfg.Auth))
		}
		s.registerAPI(pr)
		s.registerFiles(pr)
	})

	s.registerWS(r)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) { s.static.ServeHTTP(w, r) })
	return r
}

// Start binds the HTTP listener (and, when cfg.Backend.UseTLS is set, the
// HTTPS listener on port+HTTPSPortOffset) and begins serving. An HTTPS
// bind failure is logged and swallowed rather than returned: the backend
// stays Running on HTTP alone, matching the original manager's tolerance
// for partial TLS failure.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handler := s.router()
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Backend.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.cfg.Log.Warn("backend http server stopped", logger.String("backend", s.cfg.Backend.Name), logger.Error(err))
		}
	}()
	s.cfg.Log.Info("backend http listening", logger.String("backend", s.cfg.Backend.Name), logger.String("addr", addr))

	if !s.cfg.Backend.UseTLS {
		return nil
	}

	httpsPort := s.cfg.Backend.Port + s.cfg.HTTPSPortOffset
	httpsAddr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, httpsPort)
	cert, err := s.cfg.Certs.GetCertificate(s.cfg.Backend.Name, s.cfg.Backend.Port, s.cfg.ProductionDomain)
	if err != nil {
		s.cfg.Log.Warn("backend https disabled: certificate unavailable",
			logger.String("backend", s.cfg.Backend.Name), logger.Error(err))
		return nil
	}

	s.httpsSrv = &http.Server{
		Addr:    httpsAddr,
		Handler: handler,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{*cert},
			MinVersion:   tls.VersionTLS12,
		},
		ReadHeaderTimeout: 5 * time.Second,
	}

	httpsLn, err := tls.Listen("tcp", httpsAddr, s.httpsSrv.TLSConfig)
	if err != nil {
		s.cfg.Log.Warn("backend https bind failed, continuing on http only",
			logger.String("backend", s.cfg.Backend.Name), logger.Error(err))
		s.httpsSrv = nil
		return nil
	}
	go func() {
		if err := s.httpsSrv.Serve(httpsLn); err != nil && err != http.ErrServerClosed {
			s.cfg.Log.Warn("backend https server stopped", logger.String("backend", s.cfg.Backend.Name), logger.Error(err))
		}
	}()
	s.cfg.Log.Info("backend https listening", logger.String("backend", s.cfg.Backend.Name), logger.String("addr", httpsAddr))
	return nil
}

// Stop gracefully shuts down whichever listeners were started.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.httpsSrv != nil {
		if err := s.httpsSrv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
