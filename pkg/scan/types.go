// Package scan queries a managed host for its actual state: listening
// ports, running service instances, and live database and cache
// inventories. Every source is best-effort; a source failure narrows
// the result and records a gap instead of failing the scan.
package scan

// Observed is the ephemeral snapshot of one host produced by a scan.
type Observed struct {
	// UsedPorts is the union of all sources: every port considered
	// taken for conflict checking, mapped to its owner label. Ports
	// only the raw socket scan could see are labelled "system";
	// registry-held ports appear here even when nothing is listening.
	UsedPorts map[int]string `json:"used_ports"`

	// Listening holds only the ports with an actual listener behind
	// them (service mappings and the socket table). Drift comparisons
	// against reality use this set, never UsedPorts.
	Listening map[int]string `json:"listening"`

	// Services are the running service instances found on the host.
	Services []ServiceInstance `json:"services"`

	// Gaps names the sources that failed; the snapshot is partial with
	// respect to them.
	Gaps []string `json:"gaps,omitempty"`
}

// ServiceInstance is one running container under the host's service
// manager.
type ServiceInstance struct {
	Name    string        `json:"name"`
	Image   string        `json:"image,omitempty"`
	Network string        `json:"network,omitempty"`
	Ports   []PortMapping `json:"ports,omitempty"`
}

// PortMapping is one published port of a service instance.
type PortMapping struct {
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol,omitempty"`
}

// SystemOwner is the owner label for ports visible in the socket table
// but not attributable to a managed service.
const SystemOwner = "system"
