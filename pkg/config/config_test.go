package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func writeFakeKey(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, []byte("fake key material"), 0o600); err != nil {
		t.Fatalf("Failed to write key: %v", err)
	}
	return path
}

func TestLoad_MinimalConfig(t *testing.T) {
	key := writeFakeKey(t)
	path := writeConfig(t, fmt.Sprintf(`
hosts:
  apps1:
    host: apps1.example.com
    user: deploy
    private_key_path: %s
`, key))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// A single host becomes the default without being named.
	if cfg.DefaultHost != "apps1" {
		t.Errorf("Expected default host apps1, got %q", cfg.DefaultHost)
	}

	host := cfg.Hosts["apps1"]
	if host.Port != 22 {
		t.Errorf("Expected default port 22, got %d", host.Port)
	}
	if host.ConnectTimeout != 30*time.Second {
		t.Errorf("Expected default connect timeout, got %s", host.ConnectTimeout)
	}
	if cfg.Paths.Registry != "/etc/berth/registry.json" {
		t.Errorf("Expected default registry path, got %q", cfg.Paths.Registry)
	}
	if cfg.Paths.EnvDir != "/etc/berth/env" {
		t.Errorf("Expected default env dir, got %q", cfg.Paths.EnvDir)
	}
	if cfg.Policy.Mode != "advisory" {
		t.Errorf("Expected advisory mode default, got %q", cfg.Policy.Mode)
	}
	if cfg.Provision.DatabasePrincipal != "postgres" {
		t.Errorf("Expected postgres principal default, got %q", cfg.Provision.DatabasePrincipal)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	key := writeFakeKey(t)
	path := writeConfig(t, fmt.Sprintf(`
default_host: apps2
hosts:
  apps1:
    host: apps1.example.com
    user: deploy
    private_key_path: %s
  apps2:
    host: apps2.example.com
    port: 2222
    user: ops
    private_key_path: %s
paths:
  registry: /var/lib/berth/registry.json
  manifest: /etc/berth/deploy.yaml
  env_backup_dir: /var/backups/berth
policy:
  mode: enforcing
`, key, key))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.DefaultHost != "apps2" {
		t.Errorf("Expected default host apps2, got %q", cfg.DefaultHost)
	}
	if cfg.Hosts["apps2"].Port != 2222 {
		t.Errorf("Expected port 2222, got %d", cfg.Hosts["apps2"].Port)
	}
	if cfg.Paths.Registry != "/var/lib/berth/registry.json" {
		t.Errorf("Expected overridden registry path, got %q", cfg.Paths.Registry)
	}
	if cfg.Policy.Mode != "enforcing" {
		t.Errorf("Expected enforcing mode, got %q", cfg.Policy.Mode)
	}
}

func TestLoad_UnknownDefaultHost(t *testing.T) {
	key := writeFakeKey(t)
	path := writeConfig(t, fmt.Sprintf(`
default_host: missing
hosts:
  apps1:
    host: apps1.example.com
    user: deploy
    private_key_path: %s
`, key))

	if _, err := Load(path); err == nil {
		t.Error("Expected error for unknown default host")
	}
}

func TestLoad_NoHosts(t *testing.T) {
	path := writeConfig(t, "paths:\n  registry: /tmp/r.json\n")
	if _, err := Load(path); err == nil {
		t.Error("Expected error for empty hosts")
	}
}

func TestLoad_InvalidMode(t *testing.T) {
	key := writeFakeKey(t)
	path := writeConfig(t, fmt.Sprintf(`
hosts:
  apps1:
    host: apps1.example.com
    user: deploy
    private_key_path: %s
policy:
  mode: strict
`, key))

	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid policy mode")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestHostConfig_Lookup(t *testing.T) {
	key := writeFakeKey(t)
	path := writeConfig(t, fmt.Sprintf(`
hosts:
  apps1:
    host: apps1.example.com
    user: deploy
    private_key_path: %s
`, key))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	host, err := cfg.HostConfig("")
	if err != nil {
		t.Fatalf("Expected default lookup to succeed, got: %v", err)
	}
	if host.Host != "apps1.example.com" {
		t.Errorf("Expected apps1.example.com, got %q", host.Host)
	}

	if _, err := cfg.HostConfig("missing"); err == nil {
		t.Error("Expected error for unknown host name")
	}
}
