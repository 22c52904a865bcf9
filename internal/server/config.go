// Package server wires the tunnel engine into an HTTP server.
package server

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Cookies  CookieConfig   `yaml:"cookies"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Name    string    `yaml:"name"`
	Address string    `yaml:"address"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig configures TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig configures the database connection.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// SessionConfig configures session persistence.
type SessionConfig struct {
	// Store selects the repository backend: "memory" or "postgres".
	Store string `yaml:"store"`

	// Param is the query parameter checked for a session hint when the
	// browser bag carries none.
	Param string `yaml:"param"`
}

// CookieConfig configures the signed browser bag cookie.
type CookieConfig struct {
	// SigningKey is the HMAC key protecting the bag cookie. Required.
	SigningKey string `yaml:"signing_key"`

	Name   string        `yaml:"name"`
	TTL    time.Duration `yaml:"ttl"`
	Secure bool          `yaml:"secure"`
}

// AuthConfig configures identity token verification.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`

	// SigningKey verifies identity token signatures. Required when enabled.
	SigningKey string `yaml:"signing_key"`

	Issuer     string `yaml:"issuer"`
	CookieName string `yaml:"cookie_name"`
}

// DefaultConfig returns a configuration with defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "tunnels"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	switch c.Session.Store {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required when session.store is postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("session.store must be memory or postgres, got %q", c.Session.Store))
	}

	if c.Cookies.SigningKey == "" {
		errs = append(errs, "cookies.signing_key is required")
	}

	if c.Auth.Enabled && c.Auth.SigningKey == "" {
		errs = append(errs, "auth.signing_key is required when auth is enabled")
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			errs = append(errs, "server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			errs = append(errs, "server.tls.key_file is required when TLS is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
