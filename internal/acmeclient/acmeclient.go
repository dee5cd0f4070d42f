// Package acmeclient drives RFC 8555 ACME HTTP-01 issuance via go-acme/lego,
// tracks issuance status the way the original ACME status tracker does, and
// hands its in-flight challenge tokens to the reverse proxy so it can answer
// /.well-known/acme-challenge/{token} without any extra wiring.
package acmeclient

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nilsbr/rushd/internal/apperr"
	"github.com/nilsbr/rushd/internal/logger"
)

// State mirrors the original Idle/Provisioning/Success/Failed lifecycle so
// admin/status reporting can render the same vocabulary.
type State string

const (
	StateIdle         State = "idle"
	StateProvisioning State = "provisioning"
	StateSuccess      State = "success"
	StateFailed       State = "failed"
)

// Status is a point-in-time snapshot of the client's issuance progress.
type Status struct {
	State         State
	Domain        string
	Subdomains    []string
	LastAttempt   time.Time
	LastSuccess   time.Time
	LastError     string
	AttemptCount  int
	NextRenewalAt time.Time
}

var (
	attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rushd_acme_attempts_total",
		Help: "ACME issuance attempts by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(attemptsTotal)
}

// Client wraps a lego ACME client for a single account key, issuing and
// renewing a certificate for one domain (plus its subdomains/wildcard) at a
// time and publishing HTTP-01 challenge responses through Provider.
type Client struct {
	log      logger.Logger
	certDir  string
	staging  bool
	email    string
	provider *memoryProvider

	mu     sync.Mutex
	status Status
}

// New creates a Client rooted at certDir (used for the account key and
// issued certificate storage). staging selects Let's Encrypt's staging
// directory, used during development to avoid rate limits.
func New(certDir string, email string, staging bool, log logger.Logger) *Client {
	return &Client{
		log:      log,
		certDir:  certDir,
		staging:  staging,
		email:    email,
		provider: newMemoryProvider(),
		status:   Status{State: StateIdle},
	}
}

// Provider exposes the HTTP-01 challenge responder so the reverse proxy can
// serve /.well-known/acme-challenge/{token} ahead of all other routing.
func (c *Client) Provider() *memoryProvider { return c.provider }

// Status returns a copy of the client's current issuance status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Obtain runs a full ACME order for domain (plus any subdomains) and writes
// the resulting fullchain/privkey PEM pair to certDir as
// {domain}.fullchain.pem / {domain}.privkey.pem, the pair tlsstore.Store
// prefers over self-signed certificates of the same name.
func (c *Client) Obtain(domain string, subdomains []string) error {
	c.mu.Lock()
	c.status.State = StateProvisioning
	c.status.Domain = domain
	c.status.Subdomains = subdomains
	c.status.LastAttempt = time.Now()
	c.status.AttemptCount++
	c.mu.Unlock()

	if err := c.obtain(domain, subdomains); err != nil {
		c.mu.Lock()
		c.status.State = StateFailed
		c.status.LastError = err.Error()
		c.mu.Unlock()
		attemptsTotal.WithLabelValues("failure").Inc()
		return err
	}

	c.mu.Lock()
	c.status.State = StateSuccess
	c.status.LastSuccess = time.Now()
	c.status.LastError = ""
	c.status.NextRenewalAt = time.Now().AddDate(0, 0, 60)
	c.mu.Unlock()
	attemptsTotal.WithLabelValues("success").Inc()
	return nil
}

func (c *Client) obtain(domain string, subdomains []string) error {
	if err := os.MkdirAll(c.certDir, 0o755); err != nil {
		return apperr.Wrap(apperr.ErrAcme, "create cert dir", err)
	}

	acc, key, err := c.loadOrCreateAccount()
	if err != nil {
		return err
	}

	config := lego.NewConfig(acc)
	if c.staging {
		config.CADirURL = lego.LEDirectoryStaging
	} else {
		config.CADirURL = lego.LEDirectoryProduction
	}
	config.Certificate.KeyType = certcrypto.RSA2048

	legoClient, err := lego.NewClient(config)
	if err != nil {
		return apperr.Wrap(apperr.ErrAcme, "create lego client", err)
	}

	if err := legoClient.Challenge.SetHTTP01Provider(c.provider); err != nil {
		return apperr.Wrap(apperr.ErrAcme, "set http-01 provider", err)
	}

	if acc.Registration == nil {
		reg, err := legoClient.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return apperr.Wrap(apperr.ErrAcme, "register account", err)
		}
		acc.Registration = reg
	}

	domains := append([]string{domain}, subdomains...)
	request := certificate.ObtainRequest{Domains: domains, Bundle: true}

	cert, err := legoClient.Certificate.Obtain(request)
	if err != nil {
		return apperr.Wrap(apperr.ErrAcme, fmt.Sprintf("obtain certificate for %s", domain), err)
	}

	certPath := filepath.Join(c.certDir, domain+".fullchain.pem")
	keyPath := filepath.Join(c.certDir, domain+".privkey.pem")
	if err := os.WriteFile(certPath, cert.Certificate, 0o644); err != nil {
		return apperr.Wrap(apperr.ErrAcme, "write certificate", err)
	}
	if err := os.WriteFile(keyPath, cert.PrivateKey, 0o600); err != nil {
		return apperr.Wrap(apperr.ErrAcme, "write private key", err)
	}

	c.log.Info("acme certificate issued", logger.String("domain", domain))
	_ = key
	return nil
}

type acmeUser struct {
	Email        string
	Registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.Email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey         { return u.key }

// loadOrCreateAccount loads the persisted ECDSA account key, or mints one on
// first use, mirroring the original client's account-key-once policy.
func (c *Client) loadOrCreateAccount() (*acmeUser, crypto.PrivateKey, error) {
	keyPath := filepath.Join(c.certDir, "acme-account.key")

	if data, err := os.ReadFile(keyPath); err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, nil, apperr.Wrap(apperr.ErrAcme, "decode account key pem", nil)
		}
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.ErrAcme, "parse account key", err)
		}
		return &acmeUser{Email: c.email, key: key}, key, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.ErrAcme, "generate account key", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.ErrAcme, "marshal account key", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		return nil, nil, apperr.Wrap(apperr.ErrAcme, "persist account key", err)
	}
	return &acmeUser{Email: c.email, key: key}, key, nil
}

// memoryProvider implements github.com/go-acme/lego/v4/challenge.Provider
// by holding in-flight token->keyAuth pairs in memory, read by the reverse
// proxy's ACME challenge interception handler.
type memoryProvider struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func newMemoryProvider() *memoryProvider {
	return &memoryProvider{tokens: make(map[string]string)}
}

var _ challenge.Provider = (*memoryProvider)(nil)

func (p *memoryProvider) Present(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[token] = keyAuth
	return nil
}

func (p *memoryProvider) CleanUp(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, token)
	return nil
}

// Lookup returns the key authorization for token, for serving
// /.well-known/acme-challenge/{token}.
func (p *memoryProvider) Lookup(token string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.tokens[token]
	return v, ok
}
