package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Attempts AttemptsConfig `yaml:"attempts"`
	Hints    HintsConfig    `yaml:"hints"`
	Auth     AuthConfig     `yaml:"auth"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Security SecurityConfig `yaml:"security"`
	TLS      TLSConfig      `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Env             string        `yaml:"env"` // "development" or "production"
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
	CORSOrigin      string        `yaml:"cors_origin"`
}

// DatabaseConfig is the application database holding the catalog and
// attempt history.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"`
}

// SandboxConfig controls the pool that runs user queries. DSN should name a
// role with read-only grants on the assignment schemas; it falls back to
// database.dsn.
type SandboxConfig struct {
	DSN              string        `yaml:"dsn"`
	MaxConns         int           `yaml:"max_conns"`
	AcquireTimeout   time.Duration `yaml:"acquire_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// CatalogConfig selects where assignments come from.
type CatalogConfig struct {
	Source string `yaml:"source"` // "file" or "postgres"
	Path   string `yaml:"path"`   // YAML catalog; with source postgres it seeds the table
}

type AttemptsConfig struct {
	BufferSize   int           `yaml:"buffer_size"`
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

type HintsConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	CacheSize   int           `yaml:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SecurityConfig holds rate limits. The execute and hint limits apply per
// client on top of the global one.
type SecurityConfig struct {
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
	ExecuteRPS     float64 `yaml:"execute_rps"`
	ExecuteBurst   int     `yaml:"execute_burst"`
	HintRPS        float64 `yaml:"hint_rps"`
	HintBurst      int     `yaml:"hint_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CONFIG_PATH or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// FromEnv returns defaults with environment overrides applied, for running
// without a config file.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			Env:             "development",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second, // > statement timeout + hint retries
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  64 << 10, // 64KB
			CORSOrigin:      "http://localhost:3000",
		},
		Database: DatabaseConfig{
			MaxConns: 10,
			Migrate:  true,
		},
		Sandbox: SandboxConfig{
			MaxConns:         20,
			AcquireTimeout:   3 * time.Second,
			IdleTimeout:      30 * time.Second,
			MaxConnLifetime:  30 * time.Minute,
			StatementTimeout: 5 * time.Second,
		},
		Catalog: CatalogConfig{
			Source: "file",
			Path:   "configs/assignments.yaml",
		},
		Attempts: AttemptsConfig{
			BufferSize:   10000,
			FlushTimeout: 10 * time.Second,
		},
		Hints: HintsConfig{
			Model:       "gemini-2.0-flash",
			MaxAttempts: 3,
			BaseBackoff: 2 * time.Second,
			CacheSize:   1024,
			CacheTTL:    time.Hour,
		},
		Auth: AuthConfig{
			Issuer:   "safe-sql-sandbox",
			TokenTTL: 7 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Security: SecurityConfig{
			RateLimitRPS:   100,
			RateLimitBurst: 200,
			ExecuteRPS:     2,
			ExecuteBurst:   10,
			HintRPS:        0.5,
			HintBurst:      5,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// ApplyEnv overrides settings from the environment. getenv is os.Getenv
// outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("ENV"); v != "" {
		c.Server.Env = v
	}
	if v := getenv("FRONTEND_URL"); v != "" {
		c.Server.CORSOrigin = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := getenv("SANDBOX_DATABASE_URL"); v != "" {
		c.Sandbox.DSN = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := getenv("GEMINI_API_KEY"); v != "" {
		c.Hints.APIKey = v
	}
	if v := getenv("CATALOG_PATH"); v != "" {
		c.Catalog.Path = v
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Sandbox.MaxConns < 1 {
		return fmt.Errorf("sandbox.max_conns must be >= 1")
	}
	if c.Sandbox.AcquireTimeout <= 0 {
		return fmt.Errorf("sandbox.acquire_timeout must be positive")
	}
	if c.Sandbox.StatementTimeout < 100*time.Millisecond {
		return fmt.Errorf("sandbox.statement_timeout must be >= 100ms, got %s", c.Sandbox.StatementTimeout)
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Sandbox.StatementTimeout {
		return fmt.Errorf("server.write_timeout (%s) must exceed sandbox.statement_timeout (%s)",
			c.Server.WriteTimeout, c.Sandbox.StatementTimeout)
	}
	switch c.Catalog.Source {
	case "file":
		if c.Catalog.Path == "" {
			return fmt.Errorf("catalog.path is required when catalog.source is file")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required when catalog.source is postgres")
		}
	default:
		return fmt.Errorf("catalog.source must be file or postgres, got %q", c.Catalog.Source)
	}
	if c.Hints.MaxAttempts < 1 {
		return fmt.Errorf("hints.max_attempts must be >= 1")
	}
	if c.Security.RateLimitRPS < 0 || c.Security.ExecuteRPS < 0 || c.Security.HintRPS < 0 {
		return fmt.Errorf("security rate limits must not be negative")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Production() && c.Auth.Secret != "" && len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 bytes in production")
	}
	for _, dsn := range []string{c.Database.DSN, c.Sandbox.DSN} {
		if dsn != "" && strings.Contains(dsn, "sslmode=disable") && c.Production() {
			log.Warn().Msg("database DSN has sslmode=disable; connections to Postgres are unencrypted")
		}
	}
	return nil
}

// Production reports whether the server runs in production mode.
func (c *Config) Production() bool {
	return c.Server.Env == "production"
}

// SandboxDSN returns the DSN for the sandbox pool, falling back to the
// application database.
func (c *Config) SandboxDSN() string {
	if c.Sandbox.DSN != "" {
		return c.Sandbox.DSN
	}
	return c.Database.DSN
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
