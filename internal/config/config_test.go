package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  port: 9090
  read_timeout: 15s
  rate_limit:
    enabled: true
    requests: 120
    window: 1m
identity:
  issuer: https://auth.example.com
  audience: concierge-bff
  jwks_url: https://auth.example.com/.well-known/jwks.json
  algorithms: [RS256, ES256]
definitions:
  directories: [/etc/concierge/definitions]
specs:
  directory: /etc/concierge/specs
  sources:
    - service_id: hotel-svc
      spec_file: hotel.yaml
services:
  hotel-svc:
    base_url: https://hotels.internal
    timeout: 10s
    circuit_breaker:
      failure_threshold: 5
    retry:
      max_attempts: 3
table:
  default_limit: 20
  max_limit: 200
  swap_delay: 150ms
cache:
  driver: redis
  addr_env: REDIS_URL
  ttl: 1m
i18n:
  directory: /etc/concierge/i18n
  default_locale: id
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if !cfg.Server.RateLimit.Enabled || cfg.Server.RateLimit.Requests != 120 {
		t.Errorf("Server.RateLimit = %+v", cfg.Server.RateLimit)
	}
	if cfg.Identity.Audience != "concierge-bff" {
		t.Errorf("Identity.Audience = %q", cfg.Identity.Audience)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if cfg.Identity.ClaimPaths["tenant_id"] != "tenant_id" {
		t.Errorf("default claim paths lost: %v", cfg.Identity.ClaimPaths)
	}

	svc, ok := cfg.Services["hotel-svc"]
	if !ok {
		t.Fatal("Services[hotel-svc] not found")
	}
	if svc.Timeout != 10*time.Second {
		t.Errorf("hotel-svc.Timeout = %v, want 10s", svc.Timeout)
	}
	if svc.Retry.MaxAttempts != 3 {
		t.Errorf("hotel-svc.Retry.MaxAttempts = %d, want 3", svc.Retry.MaxAttempts)
	}

	if cfg.Table.DefaultLimit != 20 || cfg.Table.MaxLimit != 200 {
		t.Errorf("Table = %+v", cfg.Table)
	}
	if cfg.Table.SwapDelay != 150*time.Millisecond {
		t.Errorf("Table.SwapDelay = %v, want 150ms", cfg.Table.SwapDelay)
	}
	if cfg.Table.PageWindow != 3 {
		t.Errorf("Table.PageWindow = %d, want default 3", cfg.Table.PageWindow)
	}
	if cfg.Cache.Driver != "redis" || cfg.Cache.AddrEnv != "REDIS_URL" {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.I18n.DefaultLocale != "id" {
		t.Errorf("I18n.DefaultLocale = %q, want id", cfg.I18n.DefaultLocale)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_invalid_yaml(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [not a map"))
	if err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv("CONCIERGE_SERVER_PORT", "7070")
	t.Setenv("CONCIERGE_IDENTITY_AUDIENCE", "override-aud")
	t.Setenv("CONCIERGE_OBSERVABILITY_LOG_LEVEL", "debug")
	t.Setenv("CONCIERGE_CACHE_DRIVER", "memory")
	t.Setenv("CONCIERGE_TABLE_SWAP_DELAY", "250ms")
	t.Setenv("CONCIERGE_TABLE_DEFAULT_LIMIT", "25")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Identity.Audience != "override-aud" {
		t.Errorf("Identity.Audience = %q, want override-aud", cfg.Identity.Audience)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Observability.LogLevel)
	}
	if cfg.Cache.Driver != "memory" {
		t.Errorf("Cache.Driver = %q, want memory", cfg.Cache.Driver)
	}
	if cfg.Table.SwapDelay != 250*time.Millisecond {
		t.Errorf("Table.SwapDelay = %v, want 250ms", cfg.Table.SwapDelay)
	}
	if cfg.Table.DefaultLimit != 25 {
		t.Errorf("Table.DefaultLimit = %d, want 25", cfg.Table.DefaultLimit)
	}
	// Untouched values keep the file's setting.
	if cfg.Identity.Issuer != "https://auth.example.com" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
}

func TestLoad_badEnvValue(t *testing.T) {
	t.Setenv("CONCIERGE_SERVER_PORT", "not-a-port")
	_, err := Load(writeConfig(t, validYAML))
	if err == nil {
		t.Fatal("Load() with malformed env override should return error")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Defaults()
		cfg.Identity.Issuer = "https://auth.example.com"
		cfg.Identity.JWKSURL = "https://auth.example.com/jwks"
		cfg.Identity.Audience = "concierge"
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("defaults with identity should validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"missing issuer", func(c *Config) { c.Identity.Issuer = "" }, "identity.issuer"},
		{"missing base url", func(c *Config) {
			c.Services = map[string]ServiceConfig{"hotel-svc": {}}
		}, "services.hotel-svc.base_url"},
		{"zero default limit", func(c *Config) { c.Table.DefaultLimit = 0 }, "table.default_limit must be positive"},
		{"default above max", func(c *Config) { c.Table.DefaultLimit = 500 }, "must not exceed"},
		{"negative swap delay", func(c *Config) { c.Table.SwapDelay = -time.Second }, "swap_delay"},
		{"unknown cache driver", func(c *Config) { c.Cache.Driver = "memcached" }, "cache.driver"},
		{"redis without addr", func(c *Config) {
			c.Cache.Driver = "redis"
			c.Cache.AddrEnv = ""
		}, "cache.addr_env"},
		{"rate limit without window", func(c *Config) {
			c.Server.RateLimit.Enabled = true
			c.Server.RateLimit.Window = 0
		}, "rate_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want mention of %q", err, tt.want)
			}
		})
	}
}
