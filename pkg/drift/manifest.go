// Package drift compares declared, provisioned, and observed state and
// classifies every discrepancy. Detection never mutates anything; the
// caller decides remediation.
package drift

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/openberth/openberth/pkg/slot"
)

// Manifest is the human/CI-maintained declaration of intended port
// assignments. It is read-only to this engine and independent from the
// registry's provisioned state.
type Manifest struct {
	Projects map[string]ManifestProject `yaml:"projects"`
}

// ManifestProject declares one project's intended environments.
type ManifestProject struct {
	Environments map[slot.Environment]ManifestPorts `yaml:"environments"`
}

// ManifestPorts declares the intended ports of one environment. A zero
// value means "no intention declared" for that kind.
type ManifestPorts struct {
	App   int `yaml:"app,omitempty"`
	DB    int `yaml:"db,omitempty"`
	Redis int `yaml:"redis,omitempty"`
}

// LoadManifest reads and parses the manifest document. Callers degrade
// drift detection to scanner-only mode when this fails; a malformed
// manifest never crashes an invocation.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// TryLoadManifest loads the manifest for drift detection. A missing or
// unparseable manifest degrades detection to scanner-only mode, so both
// cases log a warning and return nil instead of failing the run.
func TryLoadManifest(path string) *Manifest {
	m, err := LoadManifest(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("manifest unavailable, drift detection degraded to scanner-only mode")
		return nil
	}
	return m
}

// ParseManifest parses manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// Intention is one declared (project, environment, kind, port) tuple.
type Intention struct {
	Project     string
	Environment slot.Environment
	Kind        slot.Kind
	Port        int
}

// Intentions flattens the manifest into its declared port tuples.
func (m *Manifest) Intentions() []Intention {
	if m == nil {
		return nil
	}
	var out []Intention
	for project, mp := range m.Projects {
		for env, ports := range mp.Environments {
			if ports.App > 0 {
				out = append(out, Intention{project, env, slot.KindApp, ports.App})
			}
			if ports.DB > 0 {
				out = append(out, Intention{project, env, slot.KindDatabase, ports.DB})
			}
			if ports.Redis > 0 {
				out = append(out, Intention{project, env, slot.KindCache, ports.Redis})
			}
		}
	}
	return out
}

// PortSet returns the set of every declared port mapped to its
// "project/environment" label.
func (m *Manifest) PortSet() map[int]string {
	set := make(map[int]string)
	for _, in := range m.Intentions() {
		set[in.Port] = fmt.Sprintf("%s/%s", in.Project, in.Environment)
	}
	return set
}
