// Package proxy implements the reverse proxy that fronts every backend:
// ACME challenge interception, HTTP-to-HTTPS redirection, and
// subdomain-routed forwarding via the route table, the single public
// entry point the original design funnels all traffic through.
package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/nilsbr/rushd/internal/acmeclient"
	"github.com/nilsbr/rushd/internal/logger"
	"github.com/nilsbr/rushd/internal/ratelimit"
	"github.com/nilsbr/rushd/internal/requestlog"
	"github.com/nilsbr/rushd/internal/routetable"
	"github.com/nilsbr/rushd/internal/security"
	"github.com/nilsbr/rushd/internal/tlsstore"
)

// Config wires the proxy to the shared infrastructure built once at
// startup by the orchestrator.
type Config struct {
	BindAddress      string
	HTTPPort         int
	HTTPSPortOffset  int
	EnableHTTPS      bool
	ProductionDomain string

	// ForwardTimeout bounds how long forwarding to a backend may take
	// before the proxy gives up and reports a gateway timeout. Zero
	// means no deadline beyond the transport's own defaults.
	ForwardTimeout time.Duration

	Routes *routetable.Table
	Certs  *tlsstore.Store
	Acme   *acmeclient.Client // nil when ACME is not configured

	RateLimiter *ratelimit.Limiter
	RequestLog  *requestlog.Logger
	Log         logger.Logger
}

// Server is the reverse proxy's pair of listeners.
type Server struct {
	mu  sync.Mutex
	cfg Config

	httpSrv  *http.Server
	httpsSrv *http.Server
}

// New builds (but does not start) the proxy Server.
func New(cfg Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) baseMiddleware(h http.Handler) http.Handler {
	h = middleware.Recoverer(h)
	h = security.Middleware(h)
	if s.cfg.RequestLog != nil {
		h = requestlog.Middleware(s.cfg.RequestLog)(h)
	}
	if s.cfg.RateLimiter != nil {
		h = ratelimit.Middleware(s.cfg.RateLimiter)(h)
	}
	return middleware.RequestID(h)
}

// Start binds the HTTP listener and, when EnableHTTPS is set, the HTTPS
// listener on HTTPPort+HTTPSPortOffset with SNI-based certificate
// selection.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	httpHandler := s.baseMiddleware(s.buildHandler(false))
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.HTTPPort)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.cfg.Log.Error("proxy http server stopped", logger.Error(err))
		}
	}()
	s.cfg.Log.Info("proxy http listening", logger.String("addr", addr))

	if !s.cfg.EnableHTTPS {
		return nil
	}

	httpsHandler := s.baseMiddleware(s.buildHandler(true))
	httpsAddr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.HTTPPort+s.cfg.HTTPSPortOffset)
	s.httpsSrv = &http.Server{
		Addr:    httpsAddr,
		Handler: httpsHandler,
		TLSConfig: &tls.Config{
			GetCertificate: s.getCertificate,
			MinVersion:     tls.VersionTLS12,
		},
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := tls.Listen("tcp", httpsAddr, s.httpsSrv.TLSConfig)
	if err != nil {
		return fmt.Errorf("bind proxy https listener: %w", err)
	}
	go func() {
		if err := s.httpsSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.cfg.Log.Error("proxy https server stopped", logger.Error(err))
		}
	}()
	s.cfg.Log.Info("proxy https listening", logger.String("addr", httpsAddr))
	return nil
}

// Stop gracefully shuts down both listeners.
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
