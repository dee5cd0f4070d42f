package backendserver

import (
	"context"
	"sync"

	"github.com/nilsbr/rushd/internal/apperr"
	"github.com/nilsbr/rushd/internal/backend"
	"github.com/nilsbr/rushd/internal/hotreload"
	"github.com/nilsbr/rushd/internal/logger"
)

// ConfigFactory builds the per-backend Config (shared infrastructure plus
// this backend's own fields) at Start time, since most of Config depends
// on process-wide singletons (cert store, rate limiter) the Runner is
// constructed once with, while Backend itself varies per call.
type ConfigFactory func(b backend.Backend) Config

// Runner implements backend.Runner by creating and tracking one
// backendserver.Server per running backend, the generalized equivalent of
// the original manager's per-server task handle. It also arms and disarms
// the shared filesystem watcher on a backend's document root across its
// lifetime, so hot-reload coverage always matches which backends are
// actually serving.
type Runner struct {
	mu      sync.Mutex
	servers map[string]*Server
	build   ConfigFactory
	watcher *hotreload.Watcher // nil disables hot-reload watching entirely
	log     logger.Logger
}

// NewRunner creates a Runner that builds each backend's Config via build.
// watcher may be nil to run without filesystem-change hot reload.
func NewRunner(build ConfigFactory, watcher *hotreload.Watcher, log logger.Logger) *Runner {
	return &Runner{servers: make(map[string]*Server), build: build, watcher: watcher, log: log}
}

var _ backend.Runner = (*Runner)(nil)

// Start builds and starts a Server for b, registering it so a later Stop
// can find it again, and begins watching its document root for changes.
func (r *Runner) Start(ctx context.Context, b backend.Backend) error {
	r.mu.Lock()
	if _, exists := r.servers[b.ID]; exists {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	srv := New(r.build(b))
	if err := srv.Start(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.servers[b.ID] = srv
	r.mu.Unlock()

	if r.watcher != nil {
		if err := r.watcher.Watch(b.DocRoot, b.Name, b.Port); err != nil {
			r.log.Warn("hot-reload watch failed, continuing without it",
				logger.String("backend", b.Name), logger.Error(err))
		}
	}
	return nil
}

// Stop shuts down and forgets the Server for b, and stops watching its
// document root.
func (r *Runner) Stop(ctx context.Context, b backend.Backend) error {
	r.mu.Lock()
	srv, ok := r.servers[b.ID]
	if ok {
		delete(r.servers, b.ID)
	}
	r.mu.Unlock()

	if r.watcher != nil {
		if err := r.watcher.Unwatch(b.DocRoot); err != nil {
			r.log.Warn("hot-reload unwatch failed",
				logger.String("backend", b.Name), logger.Error(err))
		}
	}

	if !ok {
		return apperr.Wrap(apperr.ErrBadRequest, "backend not running: "+b.Name, nil)
	}
	return srv.Stop(ctx)
}
