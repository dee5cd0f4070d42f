// Package routetable maps subdomains to backend targets for the reverse
// proxy, held under a single RWMutex since reads (one per proxied request)
// vastly outnumber writes (one per backend start/stop).
package routetable

import (
	"sort"
	"sync"
)

// Route is the proxy-facing view of a backend: where to send matched
// requests and whether to terminate TLS in front of them.
type Route struct {
	Subdomain   string
	BackendID   string
	BackendName string
	TargetHost  string
	TargetPort  int
	UseTLS      bool
}

// Table is a concurrency-safe subdomain -> Route index.
type Table struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// New creates an empty Table.
func New() *Table {
	return &Table{routes: make(map[string]Route)}
}

// Insert adds or replaces the route for r.Subdomain.
func (t *Table) Insert(r Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[r.Subdomain] = r
}

// Lookup returns the route registered for subdomain, if any.
func (t *Table) Lookup(subdomain string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[subdomain]
	return r, ok
}

// RemoveByBackend removes every route pointing at backendID, returning the
// number removed. A backend can in principle own more than one subdomain
// alias, so this is a scan rather than a single map delete.
func (t *Table) RemoveByBackend(backendID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for sub, r := range t.routes {
		if r.BackendID == backendID {
			delete(t.routes, sub)
			removed++
		}
	}
	return removed
}

// RemoveSubdomain removes a single subdomain's route.
func (t *Table) RemoveSubdomain(subdomain string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, subdomain)
}

// All returns a snapshot of every registered route, sorted by subdomain for
// stable rendering (used by the admin status page).
func (t *Table) All() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subdomain < out[j].Subdomain })
	return out
}

// Len returns the number of registered routes.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}
