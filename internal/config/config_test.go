package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Identity.Issuer != "https://auth.inkline.app" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
	if cfg.Gateway.Driver != "postgres" {
		t.Errorf("Gateway.Driver = %q, want postgres", cfg.Gateway.Driver)
	}
	if cfg.Gateway.Retry.MaxAttempts != 4 {
		t.Errorf("Gateway.Retry.MaxAttempts = %d, want 4", cfg.Gateway.Retry.MaxAttempts)
	}
	// Unset nested fields keep their defaults.
	if cfg.Gateway.Retry.BackoffMax != 2*time.Second {
		t.Errorf("Gateway.Retry.BackoffMax = %v, want default 2s", cfg.Gateway.Retry.BackoffMax)
	}
	if cfg.Gateway.CircuitBreaker.FailureThreshold != 8 {
		t.Errorf("CircuitBreaker.FailureThreshold = %d, want 8", cfg.Gateway.CircuitBreaker.FailureThreshold)
	}
	if cfg.Sessions.Driver != "redis" {
		t.Errorf("Sessions.Driver = %q", cfg.Sessions.Driver)
	}
	if cfg.Uploads.MaxFiles != 5 {
		t.Errorf("Uploads.MaxFiles = %d, want 5", cfg.Uploads.MaxFiles)
	}
	if cfg.Availability.Debounce != 300*time.Millisecond {
		t.Errorf("Availability.Debounce = %v", cfg.Availability.Debounce)
	}
	if cfg.Billing.Prices["artist_pro_monthly"] != "price_123" {
		t.Errorf("Billing.Prices = %v", cfg.Billing.Prices)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load("testdata/missing_identity.yaml")
	if err == nil {
		t.Fatal("Load() with missing identity should return error")
	}
	if !strings.Contains(err.Error(), "identity.issuer") {
		t.Errorf("error = %v, want mention of identity.issuer", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Availability.Debounce != 500*time.Millisecond {
		t.Errorf("default Availability.Debounce = %v, want 500ms", cfg.Availability.Debounce)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
	if !cfg.Flows.Builtin {
		t.Error("default Flows.Builtin = false, want true")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INKLINE_SERVER_PORT", "3000")
	t.Setenv("INKLINE_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("INKLINE_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("INKLINE_SESSIONS_DRIVER", "memory")
	t.Setenv("INKLINE_OBSERVABILITY_LOG_LEVEL", "error")
	t.Setenv("INKLINE_OBSERVABILITY_LOG_FORMAT", "console")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.com" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.Sessions.Driver != "memory" {
		t.Errorf("Sessions.Driver = %q, want memory (env override)", cfg.Sessions.Driver)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
	if cfg.Observability.LogFormat != "console" {
		t.Errorf("LogFormat = %q, want console (env override)", cfg.Observability.LogFormat)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Identity.Issuer = "https://auth.inkline.app"
		cfg.Identity.SecretEnv = "INKLINE_JWT_SECRET"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults plus identity", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"no key source", func(c *Config) { c.Identity.SecretEnv = "" }, "identity.jwks_url"},
		{"bad gateway driver", func(c *Config) { c.Gateway.Driver = "mysql" }, "gateway.driver"},
		{"bad sessions driver", func(c *Config) { c.Sessions.Driver = "disk" }, "sessions.driver"},
		{"cloudinary without preset", func(c *Config) { c.Uploads.Driver = "cloudinary" }, "upload_preset"},
		{"no flows", func(c *Config) { c.Flows.Builtin = false }, "flows.directories"},
		{"bad log format", func(c *Config) { c.Observability.LogFormat = "logfmt" }, "log_format"},
		{"no upload size limit", func(c *Config) { c.Uploads.MaxBytes = 0 }, "uploads.max_bytes"},
		{"negative session cap", func(c *Config) { c.Sessions.MaxOpen = -1 }, "sessions.max_open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
