package drift

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/openberth/openberth/pkg/registry"
	"github.com/openberth/openberth/pkg/scan"
	"github.com/openberth/openberth/pkg/slot"
	"github.com/openberth/openberth/pkg/telemetry"
)

// Class is a drift finding classification.
type Class string

const (
	// ClassManifestOrphan: the manifest claims a service should be
	// running on a port but nothing is listening. The service may be
	// intentionally stopped, so this is a warning.
	ClassManifestOrphan Class = "manifest-orphan"

	// ClassUntrackedPort: an observed listener inside a managed range
	// with no owner in the manifest or the registry. An unmanaged
	// process is consuming a slot the allocator believes is free, a
	// latent collision risk for the next allocation.
	ClassUntrackedPort Class = "untracked-port"

	// ClassStaleLedger: the used-ports ledger holds a port that appears
	// in neither the manifest nor the observed set. Bookkeeping
	// believes a slot is taken but nothing declares or uses it.
	ClassStaleLedger Class = "stale-ledger"

	// ClassDeprecatedRange: a registry-recorded port falls inside a
	// database range from an earlier tool generation and should be
	// migrated to the current table.
	ClassDeprecatedRange Class = "deprecated-range"
)

// Severity grades a finding.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Finding is one classified discrepancy. It carries enough detail for
// an operator to act without re-running a diagnostic scan.
type Finding struct {
	Class       Class            `json:"class"`
	Severity    Severity         `json:"severity"`
	Port        int              `json:"port"`
	Project     string           `json:"project,omitempty"`
	Environment slot.Environment `json:"environment,omitempty"`
	Kind        slot.Kind        `json:"kind,omitempty"`
	Owner       string           `json:"owner,omitempty"`
	Detail      string           `json:"detail"`
	Suggestion  string           `json:"suggestion,omitempty"`
}

// Detector performs the three-way comparison between manifest,
// registry, and observed state.
type Detector struct {
	metrics *telemetry.Metrics
}

// NewDetector creates a detector. metrics may be nil.
func NewDetector(metrics *telemetry.Metrics) *Detector {
	return &Detector{metrics: metrics}
}

// Detect classifies every discrepancy between the declared manifest,
// the provisioned registry, the observed snapshot, and the used-ports
// ledger (port -> owning project). A nil manifest degrades detection to
// scanner-only mode: manifest-orphan findings are skipped and untracked
// detection loses the manifest as an ownership source.
func (d *Detector) Detect(manifest *Manifest, reg *registry.Registry, obs *scan.Observed, ledger map[int]string) []Finding {
	var findings []Finding

	if manifest == nil {
		log.Warn().Msg("no manifest available, drift detection degraded to scanner-only mode")
	}

	manifestPorts := manifest.PortSet()
	var registryPorts map[int]string
	if reg != nil {
		registryPorts = reg.UsedPorts()
	}

	// Manifest orphans: declared but nothing listening. The comparison
	// runs against the listening set only; a registry reservation for
	// the port does not make the service running.
	for _, in := range manifest.Intentions() {
		if _, listening := obs.Listening[in.Port]; listening {
			continue
		}
		findings = append(findings, Finding{
			Class:       ClassManifestOrphan,
			Severity:    SeverityWarning,
			Port:        in.Port,
			Project:     in.Project,
			Environment: in.Environment,
			Kind:        in.Kind,
			Detail:      fmt.Sprintf("manifest declares %s/%s %s on port %d but nothing is listening", in.Project, in.Environment, in.Kind, in.Port),
			Suggestion:  "start the service or remove the manifest entry",
		})
	}

	// Untracked listeners inside managed ranges.
	for port, owner := range obs.Listening {
		mr, managed := slot.ManagedRangeFor(port)
		if !managed {
			continue
		}
		if _, declared := manifestPorts[port]; declared {
			continue
		}
		if _, provisioned := registryPorts[port]; provisioned {
			continue
		}
		findings = append(findings, Finding{
			Class:       ClassUntrackedPort,
			Severity:    SeverityError,
			Port:        port,
			Environment: mr.Environment,
			Kind:        mr.Kind,
			Owner:       owner,
			Detail:      fmt.Sprintf("port %d (%s range %s) is held by %q but tracked by neither manifest nor registry", port, mr.Kind, mr.Range, owner),
			Suggestion:  "register the service or stop the unmanaged process",
		})
	}

	// Stale ledger entries: bookkeeping with no backing declaration or
	// listener.
	for port, project := range ledger {
		if _, declared := manifestPorts[port]; declared {
			continue
		}
		if _, listening := obs.Listening[port]; listening {
			continue
		}
		findings = append(findings, Finding{
			Class:      ClassStaleLedger,
			Severity:   SeverityWarning,
			Port:       port,
			Project:    project,
			Detail:     fmt.Sprintf("ledger records port %d for %q but it is neither declared nor in use", port, project),
			Suggestion: "release the ledger entry to return the slot to the pool",
		})
	}

	// Registry ports still sitting in deprecated ranges.
	for port, owner := range registryPorts {
		if !slot.InDeprecatedRange(port) {
			continue
		}
		findings = append(findings, Finding{
			Class:      ClassDeprecatedRange,
			Severity:   SeverityWarning,
			Port:       port,
			Owner:      owner,
			Detail:     fmt.Sprintf("registry holds port %d for %s inside a deprecated database range", port, owner),
			Suggestion: "migrate the assignment into the current range table",
		})
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Class != findings[j].Class {
			return findings[i].Class < findings[j].Class
		}
		return findings[i].Port < findings[j].Port
	})

	for _, f := range findings {
		d.metrics.ObserveDriftFinding(string(f.Class))
	}

	log.Info().
		Int("findings", len(findings)).
		Bool("manifest_available", manifest != nil).
		Msg("drift detection completed")

	return findings
}
