// Package tlsstore mints and caches per-backend TLS certificates and loads
// ACME-issued ones when present, mirroring the certificate layout and
// "ACME wins" precedence of the original TLS manager.
package tlsstore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nilsbr/rushd/internal/apperr"
	"github.com/nilsbr/rushd/internal/logger"
)

// Info describes an on-disk certificate, returned by List for admin/status
// reporting.
type Info struct {
	Name       string
	Port       int
	CertPath   string
	KeyPath    string
	SizeBytes  int64
	ModifiedAt time.Time
	ValidDays  int
}

// Store mints, loads, and caches self-signed certificates per backend and
// serves ACME-issued certificates ahead of self-signed ones for the same
// name.
type Store struct {
	dir           string
	validityDays  int
	log           logger.Logger

	mu    sync.RWMutex
	cache map[string]*tls.Certificate
}

// New creates a Store rooted at dir (created if missing), minting
// certificates valid for validityDays.
func New(dir string, validityDays int, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.ErrCert, "create cert dir", err)
	}
	return &Store{
		dir:          dir,
		validityDays: validityDays,
		log:          log,
		cache:        make(map[string]*tls.Certificate),
	}, nil
}

func (s *Store) certPath(name string, port int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%d.cert", name, port))
}

func (s *Store) keyPath(name string, port int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%d.key", name, port))
}

func (s *Store) acmeCertPath(domain string) string {
	return filepath.Join(s.dir, domain+".fullchain.pem")
}

func (s *Store) acmeKeyPath(domain string) string {
	return filepath.Join(s.dir, domain+".privkey.pem")
}

// GetCertificate returns the TLS certificate to serve for name/port,
// preferring an ACME-issued certificate for productionDomain when one
// exists on disk, otherwise minting (or loading a cached) self-signed
// certificate. Cache key combines name and production domain since the
// SAN set differs between the two.
func (s *Store) GetCertificate(name string, port int, productionDomain string) (*tls.Certificate, error) {
	if productionDomain != "" && productionDomain != "localhost" {
		if cert, ok := s.loadAcme(productionDomain); ok {
			return cert, nil
		}
	}

	cacheKey := fmt.Sprintf("%s:%d:%s", name, port, productionDomain)
	s.mu.RLock()
	cached, ok := s.cache[cacheKey]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	certFile := s.certPath(name, port)
	keyFile := s.keyPath(name, port)
	if !fileExists(certFile) || !fileExists(keyFile) {
		if err := s.mint(name, port, productionDomain); err != nil {
			return nil, err
		}
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCert, "load certificate pair", err)
	}

	s.mu.Lock()
	s.cache[cacheKey] = &cert
	s.mu.Unlock()
	return &cert, nil
}

// loadAcme loads a previously obtained ACME certificate for domain, if one
// exists and parses. A corrupt pair is removed so the ACME client
// re-provisions on its next renewal pass rather than wedging forever.
func (s *Store) loadAcme(domain string) (*tls.Certificate, bool) {
	certFile := s.acmeCertPath(domain)
	keyFile := s.acmeKeyPath(domain)
	if !fileExists(certFile) || !fileExists(keyFile) {
		return nil, false
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		s.log.Warn("acme certificate corrupt, removing for re-provision",
			logger.String("domain", domain), logger.Error(err))
		_ = os.Remove(certFile)
		_ = os.Remove(keyFile)
		return nil, false
	}
	return &cert, true
}

// mint generates a fresh self-signed RSA-2048 key pair and writes it to
// disk. Standard library crypto/x509 is used here deliberately: nothing in
// the broader dependency set provides self-signed cert minting, and
// go-acme/lego only speaks the ACME protocol, not offline certificate
// generation.
func (s *Store) mint(name string, port int, productionDomain string) error {
	s.log.Info("minting self-signed certificate", logger.String("name", name), logger.Int("port", port))

	sans := subjectAltNames(name, port, productionDomain)
	commonName := sans[0]

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return apperr.Wrap(apperr.ErrCert, "generate key", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return apperr.Wrap(apperr.ErrCert, "generate serial", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"rushd"},
			CommonName:   commonName,
		},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().AddDate(0, 0, s.validityDays),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, san := range sans {
		if ip := net.ParseIP(san); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, san)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return apperr.Wrap(apperr.ErrCert, "create certificate", err)
	}

	certPEM := pemEncode("CERTIFICATE", der)
	keyPEM := pemEncode("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(priv))

	certFile := s.certPath(name, port)
	keyFile := s.keyPath(name, port)
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return apperr.Wrap(apperr.ErrCert, "write cert file", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return apperr.Wrap(apperr.ErrCert, "write key file", err)
	}

	s.log.Info("certificate minted", logger.String("common_name", commonName), logger.String("cert", certFile))
	return nil
}

func subjectAltNames(name string, port int, productionDomain string) []string {
	var sans []string
	if name == "proxy" {
		sans = []string{"*.localhost", "localhost", "127.0.0.1", "proxy.localhost"}
	} else {
		sans = []string{
			fmt.Sprintf("%s.localhost", name),
			"localhost",
			"127.0.0.1",
		}
	}
	if productionDomain != "" && productionDomain != "localhost" {
		if name == "proxy" {
			sans = append([]string{fmt.Sprintf("*.%s", productionDomain)}, sans...)
		} else {
			sans = append([]string{fmt.Sprintf("%s.%s", name, productionDomain)}, sans...)
		}
	}
	_ = port
	return sans
}

// Exists reports whether a self-signed certificate pair is already on disk
// for name/port.
func (s *Store) Exists(name string, port int) bool {
	return fileExists(s.certPath(name, port)) && fileExists(s.keyPath(name, port))
}

// Remove deletes the self-signed certificate pair for name/port and drops
// it from the in-memory cache.
func (s *Store) Remove(name string, port int) error {
	s.mu.Lock()
	for k := range s.cache {
		if len(k) >= len(name) && k[:len(name)] == name {
			delete(s.cache, k)
		}
	}
	s.mu.Unlock()

	certFile := s.certPath(name, port)
	keyFile := s.keyPath(name, port)
	if fileExists(certFile) {
		if err := os.Remove(certFile); err != nil {
			return apperr.Wrap(apperr.ErrCert, "remove cert", err)
		}
	}
	if fileExists(keyFile) {
		if err := os.Remove(keyFile); err != nil {
			return apperr.Wrap(apperr.ErrCert, "remove key", err)
		}
	}
	return nil
}

// List returns metadata for every self-signed certificate on disk, newest
// first.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCert, "read cert dir", err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".cert" {
			continue
		}
		stem := e.Name()[:len(e.Name())-len(".cert")]
		name, port, ok := splitNamePort(stem)
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Name:       name,
			Port:       port,
			CertPath:   filepath.Join(s.dir, e.Name()),
			KeyPath:    s.keyPath(name, port),
			SizeBytes:  fi.Size(),
			ModifiedAt: fi.ModTime(),
			ValidDays:  s.validityDays,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ModifiedAt.After(infos[j].ModifiedAt) })
	return infos, nil
}

func splitNamePort(stem string) (string, int, bool) {
	idx := lastIndexByte(stem, '-')
	if idx < 0 {
		return "", 0, false
	}
	name := stem[:idx]
	portStr := stem[idx+1:]
	port := 0
	for _, r := range portStr {
		if r < '0' || r > '9' {
			return "", 0, false
		}
		port = port*10 + int(r-'0')
	}
	return name, port, true
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func pemEncode(blockType string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}
