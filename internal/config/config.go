// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Sessions      SessionStoreConfig  `yaml:"sessions"`
	Flows         FlowsConfig         `yaml:"flows"`
	Uploads       UploadConfig        `yaml:"uploads"`
	Availability  AvailabilityConfig  `yaml:"availability"`
	Billing       BillingConfig       `yaml:"billing"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT verification. Tokens issued by the hosted auth
// provider are either HMAC-signed with a shared secret (SecretEnv) or
// verified against a JWKS endpoint.
type IdentityConfig struct {
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	JWKSURL      string        `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration `yaml:"jwks_cache_ttl"`
	SecretEnv    string        `yaml:"secret_env"`
	Algorithms   []string      `yaml:"algorithms"`
}

// GatewayConfig describes the remote data gateway.
type GatewayConfig struct {
	Driver          string               `yaml:"driver"`
	DSNEnv          string               `yaml:"dsn_env"`
	MaxOpenConns    int                  `yaml:"max_open_conns"`
	MaxIdleConns    int                  `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration        `yaml:"conn_max_lifetime"`
	Timeout         time.Duration        `yaml:"timeout"`
	Retry           RetryConfig          `yaml:"retry"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig describes retry settings for remote mutations.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// CircuitBreakerConfig describes circuit breaker settings for the gateway.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// SessionStoreConfig describes where wizard sessions are persisted.
// MaxOpen and IdleTimeout bound the sessions held in memory; the store keeps
// the rest.
type SessionStoreConfig struct {
	Driver      string        `yaml:"driver"`
	AddrEnv     string        `yaml:"addr_env"`
	DB          int           `yaml:"db"`
	KeyPrefix   string        `yaml:"key_prefix"`
	TTL         time.Duration `yaml:"ttl"`
	MaxOpen     int           `yaml:"max_open"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// FlowsConfig describes where flow definitions come from.
type FlowsConfig struct {
	Directories []string `yaml:"directories"`
	Builtin     bool     `yaml:"builtin"`
}

// UploadConfig describes the upload pipeline.
type UploadConfig struct {
	Driver       string   `yaml:"driver"`
	BucketURL    string   `yaml:"bucket_url"`
	PublicURL    string   `yaml:"public_url"`
	CloudName    string   `yaml:"cloud_name"`
	UploadPreset string   `yaml:"upload_preset"`
	Folder       string   `yaml:"folder"`
	MaxFiles     int      `yaml:"max_files"`
	MaxBytes     int64    `yaml:"max_bytes"`
	AllowedTypes []string `yaml:"allowed_types"`
	Concurrency  int      `yaml:"concurrency"`
}

// AvailabilityConfig describes the username availability checker.
type AvailabilityConfig struct {
	Debounce  time.Duration `yaml:"debounce"`
	CacheSize int           `yaml:"cache_size"`
}

// BillingConfig describes the checkout and subscription functions.
type BillingConfig struct {
	CheckoutURLTemplate string            `yaml:"checkout_url_template"`
	Prices              map[string]string `yaml:"prices"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // json or console
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"` // plaintext gRPC to a local collector
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
			WriteTimeout:    60 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id", "X-Device-Id"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"HS256", "RS256"},
		},
		Gateway: GatewayConfig{
			Driver:          "memory",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			Timeout:         10 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Sessions: SessionStoreConfig{
			Driver:      "memory",
			KeyPrefix:   "inkline:",
			TTL:         7 * 24 * time.Hour,
			MaxOpen:     10000,
			IdleTimeout: 30 * time.Minute,
		},
		Flows: FlowsConfig{
			Builtin: true,
		},
		Uploads: UploadConfig{
			Driver:       "blob",
			BucketURL:    "mem://",
			Folder:       "posts",
			MaxFiles:     10,
			MaxBytes:     10 << 20,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/heic", "image/webp"},
			Concurrency:  3,
		},
		Availability: AvailabilityConfig{
			Debounce:  500 * time.Millisecond,
			CacheSize: 1024,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
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

	applyEnvOverrides(cfg)

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
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.JWKSURL == "" && c.Identity.SecretEnv == "" {
		errs = append(errs, "identity.jwks_url or identity.secret_env is required")
	}
	switch c.Gateway.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("gateway.driver %q is not supported", c.Gateway.Driver))
	}
	switch c.Sessions.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("sessions.driver %q is not supported", c.Sessions.Driver))
	}
	if c.Sessions.MaxOpen < 0 {
		errs = append(errs, "sessions.max_open must not be negative")
	}
	switch c.Uploads.Driver {
	case "blob", "cloudinary":
	default:
		errs = append(errs, fmt.Sprintf("uploads.driver %q is not supported", c.Uploads.Driver))
	}
	if c.Uploads.Driver == "cloudinary" && (c.Uploads.CloudName == "" || c.Uploads.UploadPreset == "") {
		errs = append(errs, "uploads.cloud_name and uploads.upload_preset are required for cloudinary")
	}
	if c.Uploads.MaxFiles < 1 {
		errs = append(errs, "uploads.max_files must be at least 1")
	}
	if c.Uploads.MaxBytes < 1 {
		errs = append(errs, "uploads.max_bytes must be at least 1")
	}
	switch c.Observability.LogFormat {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format %q is not supported", c.Observability.LogFormat))
	}
	if !c.Flows.Builtin && len(c.Flows.Directories) == 0 {
		errs = append(errs, "flows.directories is required when flows.builtin is false")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads INKLINE_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INKLINE_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("INKLINE_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("INKLINE_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("INKLINE_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("INKLINE_GATEWAY_DRIVER"); v != "" {
		cfg.Gateway.Driver = v
	}
	if v := os.Getenv("INKLINE_SESSIONS_DRIVER"); v != "" {
		cfg.Sessions.Driver = v
	}
	if v := os.Getenv("INKLINE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("INKLINE_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("INKLINE_OBSERVABILITY_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
