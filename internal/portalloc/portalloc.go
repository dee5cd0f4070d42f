// Package portalloc finds and reserves free TCP ports within a configured
// range, the way the original orchestrator scans upward from a start port
// and bind-tests each candidate rather than trusting a counter.
package portalloc

import (
	"fmt"
	"net"
	"sync"

	"github.com/nilsbr/rushd/internal/apperr"
)

// Allocator hands out free ports from [start, end], tracking which ports it
// has already promised out so two concurrent allocations never race each
// other onto the same candidate before either has bound it.
type Allocator struct {
	mu        sync.Mutex
	start     int
	end       int
	reserved  map[int]struct{}
	bindAddr  string
}

// New creates an Allocator over the inclusive port range [start, end].
// bindAddr is the address bind-tested against (e.g. "127.0.0.1").
func New(bindAddr string, start, end int) *Allocator {
	return &Allocator{
		start:    start,
		end:      end,
		reserved: make(map[int]struct{}),
		bindAddr: bindAddr,
	}
}

// Acquire scans upward from the configured start port, skipping ports this
// Allocator already reserved, and returns the first one that both isn't
// reserved and binds successfully. The bind is immediately released: the
// caller is expected to bind it again itself shortly after, so this is a
// best-effort probe rather than a hold on the OS socket.
func (a *Allocator) Acquire() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.start; port <= a.end; port++ {
		if _, taken := a.reserved[port]; taken {
			continue
		}
		if !a.isFree(port) {
			continue
		}
		a.reserved[port] = struct{}{}
		return port, nil
	}
	return 0, apperr.Wrap(apperr.ErrPortExhausted, fmt.Sprintf("no free port in [%d,%d]", a.start, a.end), nil)
}

// AcquireFrom first tries preferred alone, returning it when it lies in
// [start, end], is not reserved, and binds. Otherwise it scans the range
// from the configured start like Acquire, skipping preferred. Used when a
// caller wants to keep re-binding the same port across restarts.
func (a *Allocator) AcquireFrom(preferred int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if preferred >= a.start && preferred <= a.end {
		if _, taken := a.reserved[preferred]; !taken && a.isFree(preferred) {
			a.reserved[preferred] = struct{}{}
			return preferred, nil
		}
	}

	for port := a.start; port <= a.end; port++ {
		if port == preferred {
			continue
		}
		if _, taken := a.reserved[port]; taken {
			continue
		}
		if !a.isFree(port) {
			continue
		}
		a.reserved[port] = struct{}{}
		return port, nil
	}
	return 0, apperr.Wrap(apperr.ErrPortExhausted, fmt.Sprintf("no free port in [%d,%d]", a.start, a.end), nil)
}

// Release frees a previously acquired port so it can be handed out again.
// Safe to call on a port that was never reserved.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
}

// Reserve marks port as taken without going through Acquire, used at
// startup to reload ports already held by backends restored from the
// registry before any new allocation happens.
func (a *Allocator) Reserve(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reserved[port] = struct{}{}
}

func (a *Allocator) isFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", a.bindAddr, port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
