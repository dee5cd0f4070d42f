// Package basedir owns the process-wide base directory under which rushd
// keeps its config, registry, certs, logs, and document roots. It is
// initialized exactly once by the orchestrator entrypoint (internal/app)
// and handed out by reference from there — nothing outside this package
// reaches for it ambiently mid-request.
package basedir

import (
	"fmt"
	"path/filepath"
	"sync"
)

var (
	once sync.Once
	dir  string
)

// Init sets the base directory. Safe to call once; subsequent calls are no-ops.
func Init(path string) {
	once.Do(func() {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		dir = abs
	})
}

// Get returns the resolved base directory. Panics if Init was never called,
// since every path below it depends on a correctly resolved root.
func Get() string {
	if dir == "" {
		panic("basedir: Init was never called")
	}
	return dir
}

// RushDir returns {base}/.rss.
func RushDir() string { return filepath.Join(Get(), ".rss") }

// ConfigPath returns {base}/.rss/rush.toml.
func ConfigPath() string { return filepath.Join(RushDir(), "rush.toml") }

// RegistryPath returns {base}/.rss/servers.list.
func RegistryPath() string { return filepath.Join(RushDir(), "servers.list") }

// CertDir returns {base}/.rss/certs.
func CertDir() string { return filepath.Join(RushDir(), "certs") }

// LogDir returns {base}/.rss/servers.
func LogDir() string { return filepath.Join(RushDir(), "servers") }

// WWWDir returns {base}/www.
func WWWDir() string { return filepath.Join(Get(), "www") }

// DocumentRoot returns {base}/www/{name}-[{port}]/.
func DocumentRoot(name string, port int) string {
	return filepath.Join(WWWDir(), fmt.Sprintf("%s-[%d]", name, port))
}

// LogPath returns {base}/.rss/servers/{name}-[{port}].log.
func LogPath(name string, port int) string {
	return filepath.Join(LogDir(), fmt.Sprintf("%s-[%d].log", name, port))
}
