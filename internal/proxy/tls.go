package proxy

import (
	"crypto/tls"
	"strings"
)

// getCertificate implements tls.Config.GetCertificate: it looks up the
// lowercased SNI as an exact host in the route table and serves that
// backend's certificate; no wildcard matching is done. When no route
// matches, or the backend's certificate cannot be loaded, it falls back to
// the proxy's own default certificate (SANs *.{production_domain} plus
// the localhost names).
func (s *Server) getCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	sni := strings.ToLower(hello.ServerName)

	if sni != "" {
		if route, ok := s.cfg.Routes.Lookup(sni); ok {
			if cert, err := s.cfg.Certs.GetCertificate(route.BackendName, route.TargetPort, s.cfg.ProductionDomain); err == nil {
				return cert, nil
			}
		}
	}

	return s.cfg.Certs.GetCertificate("proxy", s.cfg.HTTPPort, s.cfg.ProductionDomain)
}
