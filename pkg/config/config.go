// Package config loads the berth CLI configuration file: managed host
// connections plus the paths the engine reads and writes.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	sshx "github.com/openberth/openberth/pkg/remote/ssh"
)

// DefaultPath is where the CLI looks for its config when --config is
// not given.
const DefaultPath = "/etc/berth/config.yaml"

// Config is the top-level CLI configuration.
type Config struct {
	// DefaultHost names the entry in Hosts used when --host is not
	// given.
	DefaultHost string `yaml:"default_host" validate:"required"`

	// Hosts maps a short host name to its SSH connection settings.
	Hosts map[string]*sshx.Config `yaml:"hosts" validate:"required,min=1"`

	// Paths groups the file locations the engine uses.
	Paths Paths `yaml:"paths"`

	// Policy controls the provisioning policy gate.
	Policy Policy `yaml:"policy"`

	// Provision holds provisioning defaults.
	Provision Provision `yaml:"provision"`
}

// Paths groups local and remote file locations.
type Paths struct {
	// Registry is the registry file path on the managed host.
	Registry string `yaml:"registry"`

	// Manifest is the local deployment manifest path. Optional: when
	// the file is absent, drift detection degrades to scanner-only
	// findings.
	Manifest string `yaml:"manifest"`

	// Ledger is the local sqlite ledger path.
	Ledger string `yaml:"ledger"`

	// EnvDir is the remote directory for per-project env files.
	EnvDir string `yaml:"env_dir"`

	// EnvBackupDir mirrors pushed env files on the managed host.
	// Empty disables mirroring.
	EnvBackupDir string `yaml:"env_backup_dir"`

	// MetricsTextfile is where command metrics are written locally in
	// Prometheus textfile format. Empty disables metrics output.
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// Policy controls the Rego policy gate.
type Policy struct {
	// Mode is "advisory" or "enforcing".
	Mode string `yaml:"mode" validate:"omitempty,oneof=advisory enforcing"`

	// Files lists additional policy modules to load.
	Files []string `yaml:"files"`
}

// Provision holds provisioning defaults.
type Provision struct {
	// DatabasePrincipal is the remote account used for database
	// catalog operations.
	DatabasePrincipal string `yaml:"database_principal"`

	// StorageRoot overrides the registry's storage root when set.
	StorageRoot string `yaml:"storage_root"`
}

// Default returns a Config with every optional field filled in. Hosts
// must still be supplied by the operator.
func Default() *Config {
	return &Config{
		Hosts: make(map[string]*sshx.Config),
		Paths: Paths{
			Registry: "/etc/berth/registry.json",
			Ledger:   defaultLedgerPath(),
			EnvDir:   "/etc/berth/env",
		},
		Policy: Policy{Mode: "advisory"},
		Provision: Provision{
			DatabasePrincipal: "postgres",
		},
	}
}

// Load reads and validates a config file, applying defaults for
// anything the file leaves out.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills per-host and path defaults the file omitted.
func (c *Config) applyDefaults() {
	for name, host := range c.Hosts {
		if host == nil {
			continue
		}
		defaults := sshx.DefaultConfig(host.Host, host.User)
		if host.Port == 0 {
			host.Port = defaults.Port
		}
		if host.AuthMethod == "" {
			host.AuthMethod = defaults.AuthMethod
		}
		if host.KnownHostsPath == "" {
			host.KnownHostsPath = defaults.KnownHostsPath
		}
		if host.ConnectTimeout == 0 {
			host.ConnectTimeout = defaults.ConnectTimeout
		}
		if host.CommandTimeout == 0 {
			host.CommandTimeout = defaults.CommandTimeout
		}
		c.Hosts[name] = host
	}

	if c.DefaultHost == "" && len(c.Hosts) == 1 {
		for name := range c.Hosts {
			c.DefaultHost = name
		}
	}
	if c.Paths.Registry == "" {
		c.Paths.Registry = "/etc/berth/registry.json"
	}
	if c.Paths.Ledger == "" {
		c.Paths.Ledger = defaultLedgerPath()
	}
	if c.Paths.EnvDir == "" {
		c.Paths.EnvDir = "/etc/berth/env"
	}
	if c.Policy.Mode == "" {
		c.Policy.Mode = "advisory"
	}
	if c.Provision.DatabasePrincipal == "" {
		c.Provision.DatabasePrincipal = "postgres"
	}
}

// Validate checks the structural constraints and each host's SSH
// settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, ok := c.Hosts[c.DefaultHost]; !ok {
		return fmt.Errorf("default_host %q is not defined under hosts", c.DefaultHost)
	}
	for name, host := range c.Hosts {
		if host == nil {
			return fmt.Errorf("host %q has no connection settings", name)
		}
		if err := host.Validate(); err != nil {
			return fmt.Errorf("host %q: %w", name, err)
		}
	}
	return nil
}

// HostConfig resolves a host name (or the default when empty) to its
// connection settings.
func (c *Config) HostConfig(name string) (*sshx.Config, error) {
	if name == "" {
		name = c.DefaultHost
	}
	host, ok := c.Hosts[name]
	if !ok {
		return nil, fmt.Errorf("host %q is not defined in the config", name)
	}
	return host, nil
}

func defaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "berth-ledger.db"
	}
	return filepath.Join(home, ".local", "state", "berth", "ledger.db")
}
