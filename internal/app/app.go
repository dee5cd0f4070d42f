// Package app wires every component into a running orchestrator: config,
// base directory, certificate store, ACME scheduler, reverse proxy, and
// backend manager, in the fixed order the original entrypoint wired its
// own dependency graph, generalized from a single static site to any
// number of independently managed backends.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nilsbr/rushd/internal/acmeclient"
	"github.com/nilsbr/rushd/internal/acmecron"
	"github.com/nilsbr/rushd/internal/adminbus"
	"github.com/nilsbr/rushd/internal/auth"
	"github.com/nilsbr/rushd/internal/backend"
	"github.com/nilsbr/rushd/internal/backendserver"
	"github.com/nilsbr/rushd/internal/basedir"
	"github.com/nilsbr/rushd/internal/config"
	"github.com/nilsbr/rushd/internal/hotreload"
	"github.com/nilsbr/rushd/internal/logger"
	"github.com/nilsbr/rushd/internal/portalloc"
	"github.com/nilsbr/rushd/internal/proxy"
	"github.com/nilsbr/rushd/internal/ratelimit"
	"github.com/nilsbr/rushd/internal/redis"
	"github.com/nilsbr/rushd/internal/requestlog"
	"github.com/nilsbr/rushd/internal/routetable"
	"github.com/nilsbr/rushd/internal/tlsstore"
	"github.com/nilsbr/rushd/internal/version"
)

// Options configures one orchestrator run, sourced from CLI flags.
type Options struct {
	BaseDir  string
	Headless bool
}

// App holds every long-lived component the orchestrator wires at startup.
type App struct {
	cfg     *config.Config
	log     logger.Logger
	proxy   *proxy.Server
	mgr     *backend.Manager
	watcher *hotreload.Watcher
	acme    *acmecron.Scheduler // nil when ACME renewal is not configured
	opts    Options
}

// New loads configuration and wires every component in order: open the
// base directory, load config, build the certificate store, build the
// ACME renewal scheduler if eligible (Run starts it), build the proxy,
// then the backend
// manager (wired to the proxy's route table, the certificate store, and
// the ACME client).
func New(opts Options) (*App, error) {
	basedir.Init(opts.BaseDir)
	if err := os.MkdirAll(basedir.RushDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	if err := os.MkdirAll(basedir.WWWDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create www directory: %w", err)
	}

	cfg, err := config.Load(basedir.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New("info", false)
	log.Info("rushd starting",
		logger.String("version", version.Version), logger.String("base_dir", basedir.Get()))

	certs, err := tlsstore.New(basedir.CertDir(), cfg.Server.CertValidityDays, log)
	if err != nil {
		return nil, fmt.Errorf("build certificate store: %w", err)
	}

	var acmeClient *acmeclient.Client
	var acmeScheduler *acmecron.Scheduler
	if cfg.AcmeEligible() {
		acmeClient = acmeclient.New(basedir.CertDir(), cfg.Server.AcmeEmail, false, log)
		acmeScheduler = acmecron.New(acmeClient, cfg.Server.ProductionDomain, nil, "", log)
	}

	routes := routetable.New()

	var bus *adminbus.Bus
	if cfg.Server.RedisAddr != "" {
		client, err := redis.New(redis.ConnectOptions{
			Addr:           cfg.Server.RedisAddr,
			DialTimeout:    2 * time.Second,
			ReadTimeout:    2 * time.Second,
			WriteTimeout:   2 * time.Second,
			PoolSize:       4,
			ConnectTimeout: 5 * time.Second,
			RetryInterval:  500 * time.Millisecond,
			MaxWait:        2 * time.Second,
			PingTimeout:    2 * time.Second,
			WarnThreshold:  3,
		}, log)
		if err != nil {
			log.Warn("admin event bus disabled: redis unavailable", logger.Error(err))
			bus = adminbus.New(nil, log)
		} else {
			bus = adminbus.New(client, log)
		}
	} else {
		bus = adminbus.New(nil, log)
	}

	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimitEnabled {
		limiter = ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.Server.RateLimitRPS})
	}

	hub := hotreload.NewHub(log)
	watcher, err := hotreload.NewWatcher(hub, log)
	if err != nil {
		return nil, fmt.Errorf("build filesystem watcher: %w", err)
	}

	proxyLog, err := requestlog.New(basedir.LogPath("proxy", cfg.Proxy.Port), "proxy", requestlog.Config{
		MaxFileSizeMB:     cfg.Logging.MaxFileSizeMB,
		MaxArchiveFiles:   cfg.Logging.MaxArchiveFiles,
		CompressArchives:  cfg.Logging.CompressArchives,
		LogRequests:       cfg.Logging.LogRequests,
		LogSecurityAlerts: cfg.Logging.LogSecurityAlerts,
	}, log)
	if err != nil {
		log.Warn("proxy request log disabled", logger.Error(err))
		proxyLog = nil
	}

	proxySrv := proxy.New(proxy.Config{
		BindAddress:      cfg.Proxy.BindAddress,
		HTTPPort:         cfg.Proxy.Port,
		HTTPSPortOffset:  cfg.Proxy.HTTPSPortOffset,
		EnableHTTPS:      cfg.Server.EnableHTTPS,
		ProductionDomain: cfg.Server.ProductionDomain,
		ForwardTimeout:   time.Duration(cfg.Proxy.TimeoutMS) * time.Millisecond,
		Routes:           routes,
		Certs:            certs,
		Acme:             acmeClient,
		RateLimiter:      limiter,
		RequestLog:       proxyLog,
		Log:              log,
	})

	var verifier *auth.Verifier
	if cfg.Server.APIKey != "" {
		verifier = auth.New(cfg.Server.APIKey)
	}

	configFactory := func(b backend.Backend) backendserver.Config {
		reqLog, err := requestlog.New(basedir.LogPath(b.Name, b.Port), b.Name, requestlog.Config{
			MaxFileSizeMB:     cfg.Logging.MaxFileSizeMB,
			MaxArchiveFiles:   cfg.Logging.MaxArchiveFiles,
			CompressArchives:  cfg.Logging.CompressArchives,
			LogRequests:       cfg.Logging.LogRequests,
			LogSecurityAlerts: cfg.Logging.LogSecurityAlerts,
		}, log)
		if err != nil {
			log.Warn("request log disabled for backend", logger.String("backend", b.Name), logger.Error(err))
			reqLog = nil
		}

		return backendserver.Config{
			Backend:          b,
			BindAddress:      cfg.Server.BindAddress,
			HTTPSPortOffset:  cfg.Server.HTTPSPortOffset,
			ProxyHTTPPort:    cfg.Proxy.Port,
			ProxyHTTPSPort:   cfg.Proxy.Port + cfg.Proxy.HTTPSPortOffset,
			ProductionDomain: cfg.Server.ProductionDomain,
			MaxUploadBytes:   cfg.Server.MaxUploadBytes,
			Auth:             verifier,
			RateLimiter:      limiter,
			Certs:            certs,
			Hub:              hub,
			RequestLog:       reqLog,
			Log:              log,
		}
	}

	runner := backendserver.NewRunner(configFactory, watcher, log)

	mgr, err := backend.NewManager(backend.Options{
		RegistryPath:     basedir.RegistryPath(),
		DocRootBase:      basedir.WWWDir(),
		ProductionDomain: cfg.Server.ProductionDomain,
		MaxConcurrent:    cfg.Server.MaxConcurrent,
		Ports:            portalloc.New(cfg.Server.BindAddress, cfg.Server.PortRangeStart, cfg.Server.PortRangeEnd),
		Certs:            certs,
		Routes:           routes,
		Acme:             acmeClient,
		Bus:              bus,
		Runner:           runner,
		Log:              log,
	})
	if err != nil {
		return nil, fmt.Errorf("build backend manager: %w", err)
	}

	return &App{
		cfg:     cfg,
		log:     log,
		proxy:   proxySrv,
		mgr:     mgr,
		watcher: watcher,
		acme:    acmeScheduler,
		opts:    opts,
	}, nil
}

// Manager exposes the backend manager for admin command dispatch.
func (a *App) Manager() *backend.Manager { return a.mgr }

// Log exposes the orchestrator's logger for callers built around App
// (the admin CLI, the main entrypoint).
func (a *App) Log() logger.Logger { return a.log }

// Run starts the proxy listeners (and, in headless mode, every
// auto-start-flagged backend recovered from the registry), then blocks
// until an interrupt or terminate signal arrives, at which point it stops
// every running backend, tears down the proxy, and returns.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.acme != nil {
		a.acme.Start()
		defer a.acme.Stop()
	}

	if a.opts.Headless {
		for _, err := range a.mgr.StartAutoStartMarked(ctx) {
			a.log.Warn("auto-start failed", logger.Error(err))
		}
	}

	if err := a.proxy.Start(ctx); err != nil {
		return fmt.Errorf("start proxy: %w", err)
	}
	a.log.Info("rushd ready", logger.String("base_dir", basedir.Get()))

	<-ctx.Done()
	a.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout())
	defer cancel()

	for _, err := range a.mgr.StopAll(shutdownCtx) {
		a.log.Warn("backend stop failed during shutdown", logger.Error(err))
	}
	if err := a.proxy.Stop(shutdownCtx); err != nil {
		a.log.Warn("proxy shutdown failed", logger.Error(err))
	}
	if err := a.watcher.Close(); err != nil {
		a.log.Warn("filesystem watcher close failed", logger.Error(err))
	}
	return nil
}
