package proxy

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/nilsbr/rushd/internal/logger"
	"github.com/nilsbr/rushd/internal/routetable"
)

func newTestProxyServer() *Server {
	return &Server{cfg: Config{
		BindAddress:      "127.0.0.1",
		HTTPPort:         8080,
		HTTPSPortOffset:  363, // 8443 - 8080
		ProductionDomain: "example.com",
		Routes:           routetable.New(),
		Log:              logger.New("error", false),
	}}
}

func TestBuildHandlerReturns404ForUnknownHost(t *testing.T) {
	s := newTestProxyServer()
	req := httptest.NewRequest(http.MethodGet, "http://unknown.example.com/", nil)
	rec := httptest.NewRecorder()
	s.buildHandler(false).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unrouted host, got %d", rec.Code)
	}
}

func TestBuildHandlerForwardsKnownHost(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Got-Host", r.Host)
		w.WriteHeader(http.StatusOK)
	}))
	defer backendSrv.Close()

	backendAddr := backendSrv.Listener.Addr().String()
	host, port := splitTestAddr(t, backendAddr)

	s := newTestProxyServer()
	s.cfg.Routes.Insert(routetable.Route{
		Subdomain:   "site-a.example.com",
		BackendID:   "b1",
		BackendName: "site-a",
		TargetHost:  host,
		TargetPort:  port,
	})

	req := httptest.NewRequest(http.MethodGet, "http://site-a.example.com/index.html", nil)
	req.Host = "site-a.example.com"
	rec := httptest.NewRecorder()
	s.buildHandler(false).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from forwarded backend, got %d", rec.Code)
	}
}

func TestBuildHandlerReturns504WhenBackendExceedsForwardTimeout(t *testing.T) {
	blocked := make(chan struct{})
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		close(blocked)
	}))
	defer backendSrv.Close()

	host, port := splitTestAddr(t, backendSrv.Listener.Addr().String())

	s := newTestProxyServer()
	s.cfg.ForwardTimeout = 20 * time.Millisecond
	s.cfg.Routes.Insert(routetable.Route{
		Subdomain:   "site-a.example.com",
		BackendID:   "b1",
		BackendName: "site-a",
		TargetHost:  host,
		TargetPort:  port,
	})

	req := httptest.NewRequest(http.MethodGet, "http://site-a.example.com/", nil)
	req.Host = "site-a.example.com"
	rec := httptest.NewRecorder()
	s.buildHandler(false).ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 on downstream deadline, got %d", rec.Code)
	}

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("backend handler never observed the canceled context")
	}
}

func TestBuildHandlerRedirectsToHTTPSOnHTTPListenerWhenEnabled(t *testing.T) {
	s := newTestProxyServer()
	s.cfg.EnableHTTPS = true
	s.cfg.Routes.Insert(routetable.Route{
		Subdomain:   "site-a.example.com",
		BackendID:   "b1",
		BackendName: "site-a",
		TargetHost:  "127.0.0.1",
		TargetPort:  19090,
	})

	req := httptest.NewRequest(http.MethodGet, "http://site-a.example.com/page", nil)
	req.Host = "site-a.example.com"
	rec := httptest.NewRecorder()
	s.buildHandler(false).ServeHTTP(rec, req)

	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("expected 301 redirect, got %d", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if loc != "https://site-a.example.com:8443/page" {
		t.Fatalf("unexpected redirect location: %s", loc)
	}
}

func TestBuildHandlerNeverRedirectsOnHTTPSListener(t *testing.T) {
	s := newTestProxyServer()
	s.cfg.EnableHTTPS = true
	s.cfg.Routes.Insert(routetable.Route{
		Subdomain:   "unknown.example.com",
		BackendID:   "b1",
		TargetHost:  "127.0.0.1",
		TargetPort:  19090,
	})

	req := httptest.NewRequest(http.MethodGet, "https://unrouted.example.com/page", nil)
	req.Host = "unrouted.example.com"
	rec := httptest.NewRecorder()
	s.buildHandler(true).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on https listener for unrouted host, got %d", rec.Code)
	}
}

func TestHostOnlyLowercasesAndStripsPort(t *testing.T) {
	cases := map[string]string{
		"Site-A.Example.COM:8080": "site-a.example.com",
		"site-a.example.com":      "site-a.example.com",
	}
	for in, want := range cases {
		if got := hostOnly(in); got != want {
			t.Fatalf("hostOnly(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTTPSPortSuffixOmits443(t *testing.T) {
	if got := httpsPortSuffix(443); got != "" {
		t.Fatalf("expected empty suffix for 443, got %q", got)
	}
	if got := httpsPortSuffix(8443); got != ":8443" {
		t.Fatalf("expected :8443, got %q", got)
	}
}

func splitTestAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}
