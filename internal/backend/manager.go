package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nilsbr/rushd/internal/acmeclient"
	"github.com/nilsbr/rushd/internal/adminbus"
	"github.com/nilsbr/rushd/internal/apperr"
	"github.com/nilsbr/rushd/internal/logger"
	"github.com/nilsbr/rushd/internal/portalloc"
	"github.com/nilsbr/rushd/internal/routetable"
	"github.com/nilsbr/rushd/internal/tlsstore"
)

// Runner starts and stops the concrete HTTP(S) server process backing a
// Backend. The manager owns lifecycle bookkeeping (status, ports, routes,
// registry persistence); Runner is injected so this package never depends
// on the server implementation itself, mirroring how the original manager
// held a task handle per server instance rather than the server's code.
type Runner interface {
	Start(ctx context.Context, b Backend) error
	Stop(ctx context.Context, b Backend) error
}

// Manager owns the set of backends: their lifecycle state, port
// reservations, proxy routes, and on-disk registry. Grounded on the
// original server manager's map of server instances behind a single lock.
type Manager struct {
	mu       sync.RWMutex
	backends map[string]Backend
	order    []string

	ports  *portalloc.Allocator
	certs  *tlsstore.Store
	routes *routetable.Table
	acme   *acmeclient.Client // nil when ACME is not configured
	bus    *adminbus.Bus      // nil-safe no-op when Redis is not configured
	runner Runner

	registryPath     string
	docRootBase      string
	productionDomain string
	maxConcurrent    int
	log              logger.Logger
}

// Options configures a new Manager.
type Options struct {
	RegistryPath     string
	DocRootBase      string
	ProductionDomain string
	MaxConcurrent    int
	Ports            *portalloc.Allocator
	Certs            *tlsstore.Store
	Routes           *routetable.Table
	Acme             *acmeclient.Client
	Bus              *adminbus.Bus
	Runner           Runner
	Log              logger.Logger
}

// NewManager loads the persisted registry (if any), reserves each restored
// backend's port against opts.Ports so a later Create can't collide with
// it, and records every backend left Running, Starting or Stopping as
// Stopped. No routes are inserted here; a backend gets its route again
// when it is started.
func NewManager(opts Options) (*Manager, error) {
	restored, err := LoadRegistry(opts.RegistryPath)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		backends:         make(map[string]Backend, len(restored)),
		ports:            opts.Ports,
		certs:            opts.Certs,
		routes:           opts.Routes,
		acme:             opts.Acme,
		bus:              opts.Bus,
		runner:           opts.Runner,
		registryPath:     opts.RegistryPath,
		docRootBase:      opts.DocRootBase,
		productionDomain: opts.ProductionDomain,
		maxConcurrent:    opts.MaxConcurrent,
		log:              opts.Log,
	}

	for _, b := range restored {
		// A backend that was Running or Starting when rushd last exited
		// comes back as Stopped: nothing actually restarted it, so the
		// recorded status would lie until the operator starts it again.
		if b.Status == StatusRunning || b.Status == StatusStarting || b.Status == StatusStopping {
			b.Status = StatusStopped
		}
		m.backends[b.ID] = b
		m.order = append(m.order, b.ID)
		m.ports.Reserve(b.Port)
	}

	return m, nil
}

// Create registers a new backend, allocating a port and minting (or
// loading) its TLS certificate, but does not start it. Grounded on
// create_server in the original manager, split into Create+Start so the
// registry always reflects a backend that exists even if starting it
// later fails.
func (m *Manager) Create(name, docRoot string, useTLS bool) (Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		if m.backends[id].Name == name {
			return Backend{}, apperr.Wrap(apperr.ErrBadRequest, "backend name already in use: "+name, nil)
		}
	}

	port, err := m.ports.Acquire()
	if err != nil {
		return Backend{}, err
	}

	if docRoot == "" {
		docRoot = filepath.Join(m.docRootBase, name)
		if err := os.MkdirAll(docRoot, 0o755); err != nil {
			m.ports.Release(port)
			return Backend{}, apperr.Wrap(apperr.ErrInternal, "create document root", err)
		}
	}

	if useTLS {
		if _, err := m.certs.GetCertificate(name, port, m.productionDomain); err != nil {
			m.ports.Release(port)
			return Backend{}, err
		}
	}

	b := Backend{
		ID:        uuid.NewString(),
		Name:      name,
		Port:      port,
		Status:    StatusStopped,
		DocRoot:   docRoot,
		UseTLS:    useTLS,
		CreatedAt: time.Now(),
	}

	m.backends[b.ID] = b
	m.order = append(m.order, b.ID)

	if err := m.saveLocked(); err != nil {
		delete(m.backends, b.ID)
		m.order = m.order[:len(m.order)-1]
		m.ports.Release(port)
		return Backend{}, err
	}

	m.bus.Publish(context.Background(), adminbus.Event{
		Type: "created", BackendID: b.ID, Name: b.Name, Port: b.Port, Timestamp: time.Now(),
	})
	return b, nil
}

// Start transitions a Stopped (or Failed) backend to Running, invoking the
// injected Runner and registering its proxy route on success. A failure
// leaves the backend in StatusFailed with LastError set rather than
// returning it to Stopped, so a bulk "start all" doesn't retry it silently
// forever.
func (m *Manager) Start(ctx context.Context, id string) error {
	m.mu.Lock()
	b, ok := m.backends[id]
	if !ok {
		m.mu.Unlock()
		return apperr.Wrap(apperr.ErrBadRequest, "unknown backend: "+id, nil)
	}
	if b.Status == StatusRunning || b.Status == StatusStarting {
		m.mu.Unlock()
		return nil
	}
	if m.maxConcurrent > 0 && m.runningOrStartingCountLocked() >= m.maxConcurrent {
		m.mu.Unlock()
		return apperr.Wrap(apperr.ErrConcurrencyLimit,
			fmt.Sprintf("max_concurrent limit of %d reached", m.maxConcurrent), nil)
	}
	b.Status = StatusStarting
	m.backends[id] = b
	m.mu.Unlock()

	err := m.runner.Start(ctx, b)

	m.mu.Lock()
	defer m.mu.Unlock()
	b = m.backends[id]
	if err != nil {
		b.Status = StatusFailed
		b.LastError = err.Error()
		m.backends[id] = b
		_ = m.saveLocked()
		m.bus.Publish(ctx, adminbus.Event{Type: "failed", BackendID: b.ID, Name: b.Name, Port: b.Port, Timestamp: time.Now()})
		return apperr.Wrap(apperr.ErrInternal, fmt.Sprintf("start backend %s", b.Name), err)
	}

	b.Status = StatusRunning
	b.StartedAt = time.Now()
	b.LastError = ""
	m.backends[id] = b

	for _, host := range m.routeHosts(b.Name) {
		m.routes.Insert(routetable.Route{
			Subdomain:   host,
			BackendID:   b.ID,
			BackendName: b.Name,
			TargetHost:  "127.0.0.1",
			TargetPort:  b.Port,
			UseTLS:      b.UseTLS,
		})
	}

	if err := m.saveLocked(); err != nil {
		return err
	}
	m.bus.Publish(ctx, adminbus.Event{Type: "started", BackendID: b.ID, Name: b.Name, Port: b.Port, Timestamp: time.Now()})
	return nil
}

// Stop transitions a Running backend to Stopped, invoking the injected
// Runner and removing its proxy route regardless of whether the stop
// itself succeeded, since a half-stopped backend must not keep receiving
// proxied traffic.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	b, ok := m.backends[id]
	if !ok {
		m.mu.Unlock()
		return apperr.Wrap(apperr.ErrBadRequest, "unknown backend: "+id, nil)
	}
	if b.Status == StatusStopped {
		m.mu.Unlock()
		return nil
	}
	b.Status = StatusStopping
	m.backends[id] = b
	m.mu.Unlock()

	err := m.runner.Stop(ctx, b)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes.RemoveByBackend(id)

	b = m.backends[id]
	b.Status = StatusStopped
	if err != nil {
		b.LastError = err.Error()
	}
	m.backends[id] = b
	if saveErr := m.saveLocked(); saveErr != nil {
		return saveErr
	}
	m.bus.Publish(ctx, adminbus.Event{Type: "stopped", BackendID: b.ID, Name: b.Name, Port: b.Port, Timestamp: time.Now()})
	if err != nil {
		return apperr.Wrap(apperr.ErrInternal, fmt.Sprintf("stop backend %s", b.Name), err)
	}
	return nil
}

// Delete stops (if needed) and permanently removes a backend, releasing
// its port and certificate files.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.RLock()
	b, ok := m.backends[id]
	m.mu.RUnlock()
	if !ok {
		return apperr.Wrap(apperr.ErrBadRequest, "unknown backend: "+id, nil)
	}

	if b.Status != StatusStopped && b.Status != StatusFailed {
		if err := m.Stop(ctx, id); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.backends, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.ports.Release(b.Port)
	m.routes.RemoveByBackend(id)
	if b.UseTLS {
		if err := m.certs.Remove(b.Name, b.Port); err != nil {
			m.log.Warn("remove certificate on delete failed", logger.String("backend", b.Name), logger.Error(err))
		}
	}

	if err := m.saveLocked(); err != nil {
		return err
	}
	m.bus.Publish(ctx, adminbus.Event{Type: "deleted", BackendID: b.ID, Name: b.Name, Port: b.Port, Timestamp: time.Now()})
	return nil
}

// Get returns a snapshot of one backend.
func (m *Manager) Get(id string) (Backend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backends[id]
	return b, ok
}

// List returns all backends in creation order, the stable order selector
// resolution and listing both depend on.
func (m *Manager) List() []Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Backend, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.backends[id])
	}
	return out
}

// SetAutoStart flags whether a backend should be started automatically by
// StartAutoStartMarked during headless recovery.
func (m *Manager) SetAutoStart(id string, autoStart bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backends[id]
	if !ok {
		return apperr.Wrap(apperr.ErrBadRequest, "unknown backend: "+id, nil)
	}
	b.AutoStart = autoStart
	m.backends[id] = b
	return m.saveLocked()
}

// StartAutoStartMarked starts every backend flagged AutoStart, used once at
// headless startup after recovery has reloaded the registry in StatusStopped.
func (m *Manager) StartAutoStartMarked(ctx context.Context) []error {
	var errs []error
	for _, b := range m.List() {
		if !b.AutoStart {
			continue
		}
		if err := m.Start(ctx, b.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// StopAll stops every non-stopped backend, collecting any per-backend
// errors rather than aborting on the first failure, so one stuck backend
// never blocks shutdown of the rest.
func (m *Manager) StopAll(ctx context.Context) []error {
	var errs []error
	for _, b := range m.List() {
		if b.Status == StatusStopped {
			continue
		}
		if err := m.Stop(ctx, b.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// runningOrStartingCountLocked counts backends currently occupying the
// max_concurrent budget. Callers must hold m.mu.
func (m *Manager) runningOrStartingCountLocked() int {
	n := 0
	for _, b := range m.backends {
		if b.Status == StatusRunning || b.Status == StatusStarting {
			n++
		}
	}
	return n
}

// routeHosts returns the full DNS host(s) a backend is reachable under:
// "{name}.{productionDomain}" when a production domain is configured,
// otherwise "{name}.localhost" for local testing. Route table keys must be
// the full incoming Host, never a bare backend name, since that's what
// both the proxy's forward lookup and its SNI certificate selection key on.
func (m *Manager) routeHosts(name string) []string {
	if m.productionDomain != "" && m.productionDomain != "localhost" {
		return []string{fmt.Sprintf("%s.%s", name, m.productionDomain)}
	}
	return []string{fmt.Sprintf("%s.localhost", name)}
}

// CleanupScope selects which terminal-status backends Cleanup removes.
type CleanupScope string

const (
	CleanupStopped CleanupScope = "stopped"
	CleanupFailed  CleanupScope = "failed"
	CleanupAll     CleanupScope = "all"
)

// Cleanup removes the registry records (and releases the ports/certs/routes
// of) every backend matching scope. The document root on disk is never
// touched: only the registry entry and its runtime bookkeeping go away, so
// an operator can still recover the files afterward.
func (m *Manager) Cleanup(ctx context.Context, scope CleanupScope) (int, error) {
	switch scope {
	case CleanupStopped, CleanupFailed, CleanupAll:
	default:
		return 0, apperr.Wrap(apperr.ErrBadRequest, "unknown cleanup scope: "+string(scope), nil)
	}

	var matched []string
	for _, b := range m.List() {
		switch scope {
		case CleanupStopped:
			if b.Status != StatusStopped {
				continue
			}
		case CleanupFailed:
			if b.Status != StatusFailed {
				continue
			}
		case CleanupAll:
			if b.Status != StatusStopped && b.Status != StatusFailed {
				continue
			}
		default:
			return 0, apperr.Wrap(apperr.ErrBadRequest, "unknown cleanup scope: "+string(scope), nil)
		}
		matched = append(matched, b.ID)
	}

	removed := 0
	for _, id := range matched {
		if err := m.Delete(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// saveLocked persists the registry. Callers must hold m.mu.
func (m *Manager) saveLocked() error {
	backends := make([]Backend, 0, len(m.order))
	for _, id := range m.order {
		backends = append(backends, m.backends[id])
	}
	return SaveRegistry(m.registryPath, backends)
}
