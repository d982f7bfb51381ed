// Package config loads server configuration from an optional YAML file and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// DefaultPassword is the shared secret used when none is configured.
const DefaultPassword = "0000"

// Config holds all server configuration.
type Config struct {
	// Sandbox
	Root       string `yaml:"root"`
	ShowHidden bool   `yaml:"show_hidden"`

	// Server
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"` // empty disables the metrics listener
	PublicURL   string `yaml:"public_url"`   // advertised in the QR code

	// TLS (optional, if both set the server uses HTTPS)
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Shared secret. PasswordHash (bcrypt) takes precedence over Password.
	Password     string        `yaml:"password"`
	PasswordHash string        `yaml:"password_hash"`
	JWTSecret    string        `yaml:"jwt_secret"` // random per process when empty
	TokenTTL     time.Duration `yaml:"token_ttl"`
	LoginRate    int           `yaml:"login_rate"` // login attempts per minute per client, 0 = unlimited

	// Uploads
	MaxUploadSize int64 `yaml:"max_upload_size"` // per field, 0 = unlimited

	// Optional subsystems
	Watch  bool `yaml:"watch"`
	WebDAV bool `yaml:"webdav"`
}

// Default returns the configuration used before any file or environment
// overrides are applied.
func Default() *Config {
	return &Config{
		ListenAddr:    ":3000",
		MetricsAddr:   ":9090",
		LogLevel:      "info",
		LogFormat:     "json",
		Password:      DefaultPassword,
		TokenTTL:      24 * time.Hour,
		LoginRate:     10,
		MaxUploadSize: 4 << 30, // 4GB
	}
}

// Load reads WEBLS_CONFIG (if set), applies environment overrides and
// validates the result.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("WEBLS_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays values from a YAML file onto cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Root = envOr("WEBLS_ROOT", c.Root)
	c.ShowHidden = envBool("WEBLS_SHOW_HIDDEN", c.ShowHidden)
	if port := os.Getenv("WEBLS_PORT"); port != "" {
		c.ListenAddr = ":" + port
	}
	c.ListenAddr = envOr("WEBLS_LISTEN_ADDR", c.ListenAddr)
	c.MetricsAddr = envOr("WEBLS_METRICS_ADDR", c.MetricsAddr)
	c.PublicURL = envOr("WEBLS_PUBLIC_URL", c.PublicURL)
	c.TLSCertFile = envOr("WEBLS_TLS_CERT_FILE", c.TLSCertFile)
	c.TLSKeyFile = envOr("WEBLS_TLS_KEY_FILE", c.TLSKeyFile)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.Password = envOr("WEBLS_PASSWORD", c.Password)
	c.PasswordHash = envOr("WEBLS_PASSWORD_HASH", c.PasswordHash)
	c.JWTSecret = envOr("WEBLS_JWT_SECRET", c.JWTSecret)
	c.TokenTTL = envDuration("WEBLS_TOKEN_TTL", c.TokenTTL)
	c.LoginRate = envInt("WEBLS_LOGIN_RATE", c.LoginRate)
	c.MaxUploadSize = envInt64("WEBLS_MAX_UPLOAD_SIZE", c.MaxUploadSize)
	c.Watch = envBool("WEBLS_WATCH", c.Watch)
	c.WebDAV = envBool("WEBLS_WEBDAV", c.WebDAV)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("WEBLS_ROOT is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS requires both a certificate and a key file")
	}
	if c.Password == "" && c.PasswordHash == "" {
		return fmt.Errorf("a password or password hash is required")
	}
	if c.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(c.PasswordHash)); err != nil {
			return fmt.Errorf("password hash is not a bcrypt hash: %w", err)
		}
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	if c.LoginRate < 0 {
		return fmt.Errorf("login rate cannot be negative")
	}
	if c.MaxUploadSize < 0 {
		return fmt.Errorf("max upload size cannot be negative")
	}
	return nil
}

// UsesDefaultPassword reports whether the shared secret was left at its
// default value.
func (c *Config) UsesDefaultPassword() bool {
	return c.PasswordHash == "" && c.Password == DefaultPassword
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
