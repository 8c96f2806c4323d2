// Package config loads the service configuration from a YAML file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DonutsNL/samlbridge/internal/adapters/driven/dbclient"
)

// ServerConfig holds the listener and gateway settings.
type ServerConfig struct {
	// Listen is the address the gateway binds, e.g. ":8090".
	Listen string `yaml:"listen"`

	// BaseURL is the externally visible URL of the protected application.
	BaseURL string `yaml:"base_url"`

	// Upstream is the protected application the gateway proxies to.
	Upstream string `yaml:"upstream"`

	// SecureCookies marks cookies Secure. Disable only for plain-http
	// development setups.
	SecureCookies bool `yaml:"secure_cookies"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SessionConfig holds local-session settings.
type SessionConfig struct {
	CookieName    string        `yaml:"cookie_name"`
	SIDCookieName string        `yaml:"sid_cookie_name"`
	Duration      time.Duration `yaml:"duration"`

	// KeyFile is the RSA private key signing session tokens. When empty
	// an ephemeral key is generated at startup and sessions do not
	// survive a restart.
	KeyFile string `yaml:"key_file"`
}

// RetentionConfig controls the login-state retention sweeper.
type RetentionConfig struct {
	// Window is how long an idle login state is kept. Zero disables the
	// sweeper.
	Window   time.Duration `yaml:"window"`
	Interval time.Duration `yaml:"interval"`
}

// RightsConfig points at the provisioning rules file.
type RightsConfig struct {
	RulesFile string `yaml:"rules_file"`
}

// LoggingConfig selects the log profile.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Session   SessionConfig   `yaml:"session"`
	Retention RetentionConfig `yaml:"retention"`
	Rights    RightsConfig    `yaml:"rights"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cfg Config
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8090"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = dbclient.DriverSQLite
	}
	if c.Database.DSN == "" && c.Database.Driver == dbclient.DriverSQLite {
		c.Database.DSN = "samlbridge.db"
	}
	if c.Session.Duration == 0 {
		c.Session.Duration = 8 * time.Hour
	}
	if c.Retention.Interval == 0 {
		c.Retention.Interval = time.Hour
	}
}

func (c *Config) validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if _, err := url.Parse(c.Server.BaseURL); err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	if c.Server.Upstream != "" {
		if _, err := url.Parse(c.Server.Upstream); err != nil {
			return fmt.Errorf("server.upstream: %w", err)
		}
	}
	if c.Database.Driver != dbclient.DriverPostgres && c.Database.Driver != dbclient.DriverSQLite {
		return fmt.Errorf("database.driver must be %q or %q", dbclient.DriverPostgres, dbclient.DriverSQLite)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Retention.Window < 0 {
		return fmt.Errorf("retention.window must not be negative")
	}
	return nil
}
