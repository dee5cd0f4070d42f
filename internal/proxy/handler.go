package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"

	"github.com/nilsbr/rushd/internal/logger"
	"github.com/nilsbr/rushd/internal/routetable"
	"github.com/nilsbr/rushd/internal/utils"
)

const acmeChallengePrefix = "/.well-known/acme-challenge/"

// hopByHopHeaders are stripped before forwarding, the standard RFC 7230
// §6.1 list httputil.ReverseProxy does not already remove on its own Director.
var hopByHopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// buildHandler returns the proxy's top-level handler for one listener.
// isTLS selects HTTPS-listener behavior (no redirect, X-Forwarded-Proto
// "https") versus HTTP-listener behavior (redirect check first,
// X-Forwarded-Proto "http"), matching spec step 3's "on the HTTP listener
// only" qualifier.
func (s *Server) buildHandler(isTLS bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Acme != nil && strings.HasPrefix(r.URL.Path, acmeChallengePrefix) {
			s.serveAcmeChallenge(w, r)
			return
		}

		host := hostOnly(r.Host)

		if !isTLS && s.cfg.EnableHTTPS {
			if _, ok := s.cfg.Routes.Lookup(host); ok {
				s.redirectToHTTPS(w, r, host)
				return
			}
		}

		route, ok := s.cfg.Routes.Lookup(host)
		if !ok {
			http.NotFound(w, r)
			return
		}

		s.forward(w, r, route, isTLS)
	})
}

func hostOnly(hostHeader string) string {
	h := strings.ToLower(hostHeader)
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}
	return h
}

func (s *Server) serveAcmeChallenge(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, acmeChallengePrefix)
	keyAuth, ok := s.cfg.Acme.Provider().Lookup(token)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(keyAuth))
}

func (s *Server) redirectToHTTPS(w http.ResponseWriter, r *http.Request, host string) {
	target := "https://" + host
	if s.cfg.HTTPSPortOffset != 0 {
		target += httpsPortSuffix(s.cfg.HTTPPort + s.cfg.HTTPSPortOffset)
	}
	target += r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// httpsPortSuffix omits ":443" since browsers assume it, matching how the
// original redirect builder avoided a redundant default-port suffix.
func httpsPortSuffix(port int) string {
	if port == 443 {
		return ""
	}
	return ":" + strconv.Itoa(port)
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, route routetable.Route, isTLS bool) {
	targetScheme := "http"
	targetAddr := net.JoinHostPort(route.TargetHost, strconv.Itoa(route.TargetPort))

	if s.cfg.ForwardTimeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ForwardTimeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	director := func(req *http.Request) {
		req.URL.Scheme = targetScheme
		req.URL.Host = targetAddr

		for _, h := range hopByHopHeaders {
			req.Header.Del(h)
		}

		clientIP := utils.ClientIP(r, false)
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			req.Header.Set("X-Forwarded-For", clientIP)
		}
		proto := "http"
		if isTLS {
			proto = "https"
		}
		req.Header.Set("X-Forwarded-Proto", proto)
		req.Header.Set("X-Forwarded-Host", r.Host)
	}

	rp := &httputil.ReverseProxy{
		Director: director,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.cfg.Log.Warn("proxy forward failed",
				logger.String("backend", route.BackendName), logger.Error(err))
			if isDownstreamTimeout(err) {
				http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
				return
			}
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
	}
	rp.ServeHTTP(w, r)
}

// isDownstreamTimeout reports whether err is the backend missing its
// deadline, as opposed to a refused connection or other forward failure.
func isDownstreamTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
