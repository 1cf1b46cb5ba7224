package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Sandbox.MaxConns != 20 {
		t.Errorf("Sandbox.MaxConns = %d, want 20", cfg.Sandbox.MaxConns)
	}
	if cfg.Sandbox.StatementTimeout != 5*time.Second {
		t.Errorf("Sandbox.StatementTimeout = %s, want 5s", cfg.Sandbox.StatementTimeout)
	}
	if cfg.Sandbox.AcquireTimeout != 3*time.Second {
		t.Errorf("Sandbox.AcquireTimeout = %s, want 3s", cfg.Sandbox.AcquireTimeout)
	}
	if cfg.Sandbox.IdleTimeout != 30*time.Second {
		t.Errorf("Sandbox.IdleTimeout = %s, want 30s", cfg.Sandbox.IdleTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return DefaultConfig()
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"max_conns 0", func(c *Config) { c.Sandbox.MaxConns = 0 }, true},
		{"acquire_timeout 0", func(c *Config) { c.Sandbox.AcquireTimeout = 0 }, true},
		{"statement_timeout too small", func(c *Config) { c.Sandbox.StatementTimeout = 10 * time.Millisecond }, true},
		{"write_timeout <= statement_timeout", func(c *Config) {
			c.Server.WriteTimeout = 5 * time.Second
		}, true},
		{"unknown catalog source", func(c *Config) { c.Catalog.Source = "mongo" }, true},
		{"file catalog without path", func(c *Config) { c.Catalog.Path = "" }, true},
		{"postgres catalog without dsn", func(c *Config) { c.Catalog.Source = "postgres" }, true},
		{"postgres catalog with dsn", func(c *Config) {
			c.Catalog.Source = "postgres"
			c.Database.DSN = "postgres://localhost/sql"
		}, false},
		{"hint attempts 0", func(c *Config) { c.Hints.MaxAttempts = 0 }, true},
		{"negative rate", func(c *Config) { c.Security.ExecuteRPS = -1 }, true},
		{"TLS enabled without cert", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = ""
			c.TLS.KeyFile = ""
		}, true},
		{"TLS enabled with cert+key", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/ssl/cert.pem"
			c.TLS.KeyFile = "/etc/ssl/key.pem"
		}, false},
		{"short secret in production", func(c *Config) {
			c.Server.Env = "production"
			c.Auth.Secret = "short"
		}, true},
		{"short secret in development", func(c *Config) { c.Auth.Secret = "short" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  host: "127.0.0.1"
  port: 9090
  cors_origin: "https://sql.example.com"
sandbox:
  max_conns: 8
  statement_timeout: 2s
  acquire_timeout: 500ms
catalog:
  source: file
  path: /srv/catalog.yaml
security:
  execute_rps: 5
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.CORSOrigin != "https://sql.example.com" {
		t.Errorf("Server.CORSOrigin = %q", cfg.Server.CORSOrigin)
	}
	if cfg.Sandbox.MaxConns != 8 {
		t.Errorf("Sandbox.MaxConns = %d, want 8", cfg.Sandbox.MaxConns)
	}
	if cfg.Sandbox.StatementTimeout != 2*time.Second {
		t.Errorf("Sandbox.StatementTimeout = %s, want 2s", cfg.Sandbox.StatementTimeout)
	}
	if cfg.Sandbox.AcquireTimeout != 500*time.Millisecond {
		t.Errorf("Sandbox.AcquireTimeout = %s, want 500ms", cfg.Sandbox.AcquireTimeout)
	}
	if cfg.Sandbox.IdleTimeout != 30*time.Second {
		t.Errorf("Sandbox.IdleTimeout = %s, want default 30s", cfg.Sandbox.IdleTimeout)
	}
	if cfg.Security.ExecuteRPS != 5 {
		t.Errorf("Security.ExecuteRPS = %v, want 5", cfg.Security.ExecuteRPS)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":                 "7070",
		"ENV":                  "production",
		"FRONTEND_URL":         "https://app.example.com",
		"DATABASE_URL":         "postgres://app@db/sql",
		"SANDBOX_DATABASE_URL": "postgres://sandbox_ro@db/sql",
		"JWT_SECRET":           "s3cret",
		"GEMINI_API_KEY":       "key",
		"CATALOG_PATH":         "/etc/catalog.yaml",
	}
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if cfg.Server.Port != 7070 || !cfg.Production() || cfg.Server.CORSOrigin != "https://app.example.com" {
		t.Errorf("server overrides not applied: %+v", cfg.Server)
	}
	if cfg.Database.DSN != "postgres://app@db/sql" || cfg.SandboxDSN() != "postgres://sandbox_ro@db/sql" {
		t.Errorf("dsn overrides not applied: %q / %q", cfg.Database.DSN, cfg.SandboxDSN())
	}
	if cfg.Auth.Secret != "s3cret" || cfg.Hints.APIKey != "key" || cfg.Catalog.Path != "/etc/catalog.yaml" {
		t.Errorf("secret overrides not applied")
	}

	bad := DefaultConfig()
	if err := bad.ApplyEnv(func(k string) string {
		if k == "PORT" {
			return "eighty"
		}
		return ""
	}); err == nil {
		t.Error("expected error for non-numeric PORT")
	}
}

func TestSandboxDSN_FallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.DSN = "postgres://app@db/sql"
	if got := cfg.SandboxDSN(); got != "postgres://app@db/sql" {
		t.Errorf("SandboxDSN = %q", got)
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:5000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
