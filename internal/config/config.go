package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces every environment override, e.g.
// CLINIGATE_SERVER_ADDR or CLINIGATE_SECURITY_TOKEN_SECRET.
const envPrefix = "CLINIGATE_"

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CLINIGATE_CONFIG"

// defaultConfigPaths are searched in order; the first existing file wins.
var defaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/clinigate/config.yaml",
}

// Config is the full service configuration. Precedence: env > file > defaults.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Security SecurityConfig `koanf:"security"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type SecurityConfig struct {
	// TokenSecret signs session tokens (HS256). Required.
	TokenSecret string `koanf:"token_secret"`
	// SessionTTL is the fallback session lifetime when a tenant has no
	// security settings of its own.
	SessionTTL time.Duration `koanf:"session_ttl"`
	// LockoutThreshold is the number of consecutive failed logins that
	// arms the account lock.
	LockoutThreshold int `koanf:"lockout_threshold"`
	// LockoutDuration is how long an armed lock holds.
	LockoutDuration time.Duration `koanf:"lockout_duration"`
	// GracePeriod is the post-login window during which requests without
	// a resolvable session token are allowed through once.
	GracePeriod time.Duration `koanf:"grace_period"`
	// Login rate limit, token bucket per client IP.
	LoginRateBurst  int `koanf:"login_rate_burst"`
	LoginRatePerSec int `koanf:"login_rate_per_sec"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Security: SecurityConfig{
			SessionTTL:       30 * time.Minute,
			LockoutThreshold: 5,
			LockoutDuration:  15 * time.Minute,
			GracePeriod:      10 * time.Minute,
			LoginRateBurst:   10,
			LoginRatePerSec:  5,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in that order of precedence.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot safely run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Security.TokenSecret) == "" {
		return errors.New("config: security.token_secret is required")
	}
	if c.Security.SessionTTL <= 0 {
		return errors.New("config: security.session_ttl must be positive")
	}
	if c.Security.LockoutThreshold <= 0 {
		return errors.New("config: security.lockout_threshold must be positive")
	}
	if c.Security.GracePeriod <= 0 {
		return errors.New("config: security.grace_period must be positive")
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps CLINIGATE_SECTION_SOME_KEY to section.some_key. Only
// the first underscore separates the section from the key.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.Replace(s, "_", ".", 1)
}
