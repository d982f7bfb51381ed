package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing root", func(c *Config) { c.Root = "" }, "WEBLS_ROOT"},
		{"empty listen", func(c *Config) { c.ListenAddr = "" }, "listen address"},
		{"half TLS", func(c *Config) { c.TLSCertFile = "cert.pem" }, "TLS"},
		{"no secret", func(c *Config) { c.Password = "" }, "password"},
		{"bad hash", func(c *Config) { c.PasswordHash = "plain" }, "bcrypt"},
		{"zero ttl", func(c *Config) { c.TokenTTL = 0 }, "TTL"},
		{"negative rate", func(c *Config) { c.LoginRate = -1 }, "login rate"},
		{"negative upload", func(c *Config) { c.MaxUploadSize = -1 }, "upload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Root = "/srv/locker"
			tt.modify(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WEBLS_CONFIG", "")
	t.Setenv("WEBLS_ROOT", "/data")
	t.Setenv("WEBLS_PORT", "8081")
	t.Setenv("WEBLS_PASSWORD", "hunter2")
	t.Setenv("WEBLS_TOKEN_TTL", "90m")
	t.Setenv("WEBLS_SHOW_HIDDEN", "true")
	t.Setenv("WEBLS_MAX_UPLOAD_SIZE", "1024")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Root != "/data" {
		t.Errorf("root = %s", cfg.Root)
	}
	if cfg.ListenAddr != ":8081" {
		t.Errorf("listen = %s", cfg.ListenAddr)
	}
	if cfg.Password != "hunter2" || cfg.UsesDefaultPassword() {
		t.Errorf("password not applied: %q", cfg.Password)
	}
	if cfg.TokenTTL != 90*time.Minute {
		t.Errorf("ttl = %v", cfg.TokenTTL)
	}
	if !cfg.ShowHidden {
		t.Error("expected show hidden")
	}
	if cfg.MaxUploadSize != 1024 {
		t.Errorf("max upload = %d", cfg.MaxUploadSize)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WEBLS_CONFIG", "")
	t.Setenv("WEBLS_ROOT", "/data")
	t.Setenv("WEBLS_PASSWORD", "")
	t.Setenv("WEBLS_PORT", "")
	t.Setenv("WEBLS_LISTEN_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.UsesDefaultPassword() {
		t.Error("expected default password")
	}
	if cfg.ListenAddr != ":3000" {
		t.Errorf("expected default listen addr, got %s", cfg.ListenAddr)
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webls.yaml")
	yml := `root: /from/file
listen_addr: ":4000"
token_ttl: 2h
webdav: true
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WEBLS_CONFIG", path)
	t.Setenv("WEBLS_ROOT", "/from/env")
	t.Setenv("WEBLS_PORT", "")
	t.Setenv("WEBLS_LISTEN_ADDR", "")
	t.Setenv("WEBLS_TOKEN_TTL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Root != "/from/env" {
		t.Errorf("env should override file, got %s", cfg.Root)
	}
	if cfg.ListenAddr != ":4000" {
		t.Errorf("listen = %s", cfg.ListenAddr)
	}
	if cfg.TokenTTL != 2*time.Hour {
		t.Errorf("ttl = %v", cfg.TokenTTL)
	}
	if !cfg.WebDAV {
		t.Error("expected webdav from file")
	}
}

func TestNewRootContext(t *testing.T) {
	c := Default()
	c.Root = t.TempDir()
	rc, err := NewRootContext(c)
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(rc.Root()) {
		t.Errorf("root should be absolute, got %s", rc.Root())
	}
	if pw, hash := rc.Secret(); pw != DefaultPassword || hash != "" {
		t.Errorf("unexpected secret %q %q", pw, hash)
	}

	c.Root = filepath.Join(c.Root, "missing")
	if _, err := NewRootContext(c); err == nil {
		t.Error("expected error for missing root")
	}
}
