// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONCIERGE"

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig             `yaml:"server"`
	Identity      IdentityConfig           `yaml:"identity"`
	Definitions   DefinitionsConfig        `yaml:"definitions"`
	Specs         SpecsConfig              `yaml:"specs"`
	Services      map[string]ServiceConfig `yaml:"services"`
	Table         TableConfig              `yaml:"table"`
	Cache         CacheConfig              `yaml:"cache"`
	I18n          I18nConfig               `yaml:"i18n"`
	Observability ObservabilityConfig      `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int             `yaml:"port"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	HandlerTimeout  time.Duration   `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	CORS            CORSConfig      `yaml:"cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// RateLimitConfig limits requests per tenant.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// IdentityConfig describes JWT and identity provider settings.
type IdentityConfig struct {
	Issuer       string            `yaml:"issuer"`
	Audience     string            `yaml:"audience"`
	JWKSURL      string            `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration     `yaml:"jwks_cache_ttl"`
	Algorithms   []string          `yaml:"algorithms"`
	ClaimPaths   map[string]string `yaml:"claim_paths"`
}

// DefinitionsConfig describes where to find table definition YAML files.
type DefinitionsConfig struct {
	Directories     []string `yaml:"directories"`
	StrictChecksums bool     `yaml:"strict_checksums"`
}

// SpecsConfig describes where to find OpenAPI specification files.
type SpecsConfig struct {
	Directory string       `yaml:"directory"`
	Sources   []SpecSource `yaml:"sources"`
}

// SpecSource maps a service ID to an OpenAPI spec file.
type SpecSource struct {
	ServiceID string `yaml:"service_id"`
	SpecFile  string `yaml:"spec_file"`
}

// ServiceConfig describes a backend service.
type ServiceConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings per service.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RetryConfig describes retry settings per service.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// TableConfig holds the defaults applied to every table controller.
type TableConfig struct {
	DefaultLimit int           `yaml:"default_limit"`
	MaxLimit     int           `yaml:"max_limit"`
	PageWindow   int           `yaml:"page_window"`
	SwapDelay    time.Duration `yaml:"swap_delay"`
	// SettleTimeout bounds how long the data endpoint waits for a fetch.
	SettleTimeout time.Duration `yaml:"settle_timeout"`
}

// CacheConfig describes the page cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// I18nConfig describes where message catalogs live.
type I18nConfig struct {
	Directory     string `yaml:"directory"`
	DefaultLocale string `yaml:"default_locale"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "Cache-Control",
					"Accept-Language", "X-Correlation-Id"},
				MaxAge: 86400,
			},
			RateLimit: RateLimitConfig{
				Requests: 600,
				Window:   time.Minute,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"tenant_id":  "tenant_id",
				"email":      "email",
				"roles":      "roles",
				"locale":     "locale",
			},
		},
		Definitions: DefinitionsConfig{
			Directories:     []string{"/definitions"},
			StrictChecksums: true,
		},
		Specs: SpecsConfig{
			Directory: "/specs",
		},
		Table: TableConfig{
			DefaultLimit:  10,
			MaxLimit:      100,
			PageWindow:    3,
			SettleTimeout: 20 * time.Second,
		},
		Cache: CacheConfig{
			Driver:     "memory",
			AddrEnv:    "CONCIERGE_REDIS_ADDR",
			TTL:        30 * time.Second,
			MaxEntries: 10000,
		},
		I18n: I18nConfig{
			Directory:     "/i18n",
			DefaultLocale: "en",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.Requests < 1 || c.Server.RateLimit.Window <= 0) {
		errs = append(errs, "server.rate_limit requires positive requests and window")
	}
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.JWKSURL == "" {
		errs = append(errs, "identity.jwks_url is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	for id, svc := range c.Services {
		if svc.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("services.%s.base_url is required", id))
		}
	}
	if c.Table.DefaultLimit < 1 {
		errs = append(errs, "table.default_limit must be positive")
	}
	if c.Table.MaxLimit > 0 && c.Table.DefaultLimit > c.Table.MaxLimit {
		errs = append(errs, "table.default_limit must not exceed table.max_limit")
	}
	if c.Table.SwapDelay < 0 {
		errs = append(errs, "table.swap_delay must not be negative")
	}
	switch c.Cache.Driver {
	case "memory":
	case "redis":
		if c.Cache.AddrEnv == "" {
			errs = append(errs, "cache.addr_env is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache.driver %q must be memory or redis", c.Cache.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// envOverrides lists the CONCIERGE_* variables that override the file.
// Unset variables leave their pointer nil.
type envOverrides struct {
	ServerPort        *int           `envconfig:"SERVER_PORT"`
	IdentityIssuer    *string        `envconfig:"IDENTITY_ISSUER"`
	IdentityJWKSURL   *string        `envconfig:"IDENTITY_JWKS_URL"`
	IdentityAudience  *string        `envconfig:"IDENTITY_AUDIENCE"`
	LogLevel          *string        `envconfig:"OBSERVABILITY_LOG_LEVEL"`
	TracingEndpoint   *string        `envconfig:"OBSERVABILITY_TRACING_ENDPOINT"`
	CacheDriver       *string        `envconfig:"CACHE_DRIVER"`
	CacheTTL          *time.Duration `envconfig:"CACHE_TTL"`
	TableDefaultLimit *int           `envconfig:"TABLE_DEFAULT_LIMIT"`
	TableSwapDelay    *time.Duration `envconfig:"TABLE_SWAP_DELAY"`
	DefaultLocale     *string        `envconfig:"I18N_DEFAULT_LOCALE"`
}

// applyEnvOverrides reads CONCIERGE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return err
	}

	set(&cfg.Server.Port, o.ServerPort)
	set(&cfg.Identity.Issuer, o.IdentityIssuer)
	set(&cfg.Identity.JWKSURL, o.IdentityJWKSURL)
	set(&cfg.Identity.Audience, o.IdentityAudience)
	set(&cfg.Observability.LogLevel, o.LogLevel)
	set(&cfg.Observability.Tracing.Endpoint, o.TracingEndpoint)
	set(&cfg.Cache.Driver, o.CacheDriver)
	set(&cfg.Cache.TTL, o.CacheTTL)
	set(&cfg.Table.DefaultLimit, o.TableDefaultLimit)
	set(&cfg.Table.SwapDelay, o.TableSwapDelay)
	set(&cfg.I18n.DefaultLocale, o.DefaultLocale)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
