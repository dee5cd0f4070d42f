// Package config loads rushd's TOML configuration file and applies the
// env-override-wins precedence rule for the API key, matching the
// teacher's env-over-file pattern but generalized from flat env vars to a
// structured file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ServerConfig is the [server] section consumed by the core.
type ServerConfig struct {
	BindAddress      string `toml:"bind_address"`
	PortRangeStart   int    `toml:"port_range_start"`
	PortRangeEnd     int    `toml:"port_range_end"`
	MaxConcurrent    int    `toml:"max_concurrent"`
	ShutdownTimeoutS int    `toml:"shutdown_timeout"`
	Workers          int    `toml:"workers"`
	EnableHTTPS      bool   `toml:"enable_https"`
	HTTPSPortOffset  int    `toml:"https_port_offset"`
	CertDir          string `toml:"cert_dir"`
	AutoCert         bool   `toml:"auto_cert"`
	CertValidityDays int    `toml:"cert_validity_days"`
	UseLetsEncrypt   bool   `toml:"use_lets_encrypt"`
	ProductionDomain string `toml:"production_domain"`
	AcmeEmail        string `toml:"acme_email"`
	APIKey           string `toml:"api_key"`
	RateLimitRPS     int    `toml:"rate_limit_rps"`
	RateLimitEnabled bool   `toml:"rate_limit_enabled"`
	RedisAddr        string `toml:"redis_addr"`
	MaxUploadBytes   int64  `toml:"max_upload_bytes"`
}

// ShutdownTimeout returns ShutdownTimeoutS as a time.Duration.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutS) * time.Second
}

// ProxyConfig is the [proxy] section.
type ProxyConfig struct {
	Enabled             bool   `toml:"enabled"`
	Port                int    `toml:"port"`
	HTTPSPortOffset     int    `toml:"https_port_offset"`
	BindAddress         string `toml:"bind_address"`
	HealthCheckInterval int    `toml:"health_check_interval"`
	TimeoutMS           int    `toml:"timeout_ms"`
}

// LoggingConfig is the [logging] section.
type LoggingConfig struct {
	MaxFileSizeMB     int  `toml:"max_file_size_mb"`
	MaxArchiveFiles   int  `toml:"max_archive_files"`
	CompressArchives  bool `toml:"compress_archives"`
	LogRequests       bool `toml:"log_requests"`
	LogSecurityAlerts bool `toml:"log_security_alerts"`
	LogPerformance    bool `toml:"log_performance"`
}

// Config is the parsed rush.toml document, plus bookkeeping needed to
// persist it back without ever writing an env-sourced API key to disk.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Proxy   ProxyConfig   `toml:"proxy"`
	Logging LoggingConfig `toml:"logging"`

	// raw holds the full parsed document (including [general], [language],
	// [theme.*]) so Save can round-trip sections the core does not
	// interpret without losing them.
	raw map[string]any

	// apiKeyFromEnv is true when Server.APIKey came from RSS_API_KEY, in
	// which case Save must never write it into the [server] section.
	apiKeyFromEnv bool

	path string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			BindAddress:      "127.0.0.1",
			PortRangeStart:   9000,
			PortRangeEnd:     9999,
			MaxConcurrent:    50,
			ShutdownTimeoutS: 10,
			Workers:          4,
			EnableHTTPS:      true,
			HTTPSPortOffset:  1000,
			CertDir:          "certs",
			AutoCert:         true,
			CertValidityDays: 365,
			ProductionDomain: "localhost",
			RateLimitRPS:     20,
			RateLimitEnabled: true,
			MaxUploadBytes:   32 << 20,
		},
		Proxy: ProxyConfig{
			Enabled:             true,
			Port:                8080,
			HTTPSPortOffset:     363, // 8080 -> 8443
			BindAddress:         "0.0.0.0",
			HealthCheckInterval: 30,
			TimeoutMS:           15000,
		},
		Logging: LoggingConfig{
			MaxFileSizeMB:     10,
			MaxArchiveFiles:   5,
			CompressArchives:  true,
			LogRequests:       true,
			LogSecurityAlerts: true,
			LogPerformance:    true,
		},
	}
}

// Load reads and parses path, applying defaults for missing fields and the
// RSS_API_KEY environment override. A missing file is not an error: it
// yields an all-defaults Config so a fresh base directory can boot.
func Load(path string) (*Config, error) {
	cfg := defaults()
	cfg.path = path

	raw := map[string]any{}
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := toml.Unmarshal(content, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fresh install: keep defaults, nothing to merge
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	cfg.raw = raw

	if env := os.Getenv("RSS_API_KEY"); env != "" {
		cfg.Server.APIKey = env
		cfg.apiKeyFromEnv = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.PortRangeStart <= 0 || c.Server.PortRangeEnd < c.Server.PortRangeStart {
		return fmt.Errorf("config: invalid port range [%d,%d]", c.Server.PortRangeStart, c.Server.PortRangeEnd)
	}
	if c.Server.MaxConcurrent <= 0 {
		return fmt.Errorf("config: max_concurrent must be > 0")
	}
	return nil
}

// AcmeEligible reports whether production_domain is a plausible public DNS
// name worth attempting ACME against (Open Question #1 from spec.md §9):
// "localhost" and bare IP literals never qualify, regardless of use_lets_encrypt.
func (c *Config) AcmeEligible() bool {
	if !c.Server.UseLetsEncrypt {
		return false
	}
	domain := c.Server.ProductionDomain
	if domain == "" || domain == "localhost" {
		return false
	}
	return !looksLikeIP(domain)
}

func looksLikeIP(s string) bool {
	dots := 0
	for _, r := range s {
		if r == '.' {
			dots++
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return dots == 3
}

// Save persists the config back to its source path using the atomic
// write-temp-then-rename procedure, merging the current [server]/[proxy]/
// [logging] sections into the originally loaded raw document so [general],
// [language], and [theme.*] round-trip untouched. An env-sourced API key
// is never written back (spec.md §4.H persistence rule).
func (c *Config) Save() error {
	out := map[string]any{}
	for k, v := range c.raw {
		out[k] = v
	}

	serverOut := c.Server
	if c.apiKeyFromEnv {
		// Preserve whatever key (if any) was already on disk instead of the
		// env override.
		if prev, ok := c.raw["server"].(map[string]any); ok {
			if key, ok := prev["api_key"].(string); ok {
				serverOut.APIKey = key
			} else {
				serverOut.APIKey = ""
			}
		} else {
			serverOut.APIKey = ""
		}
	}

	out["server"] = serverOut
	out["proxy"] = c.Proxy
	out["logging"] = c.Logging

	content, err := toml.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := c.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp config: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	return nil
}

// APIKeyFromEnv reports whether the active API key came from RSS_API_KEY.
func (c *Config) APIKeyFromEnv() bool { return c.apiKeyFromEnv }
