package scan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// This file is the pattern-matching adapter: every text format scraped
// from a remote tool is parsed here and nowhere else, so the rest of
// the engine consumes typed structures end to end.

// podmanContainer matches the fields of `podman ps --format json` the
// scanner cares about.
type podmanContainer struct {
	Names    []string `json:"Names"`
	Image    string   `json:"Image"`
	Networks []string `json:"Networks"`
	Ports    []struct {
		HostPort      int    `json:"host_port"`
		ContainerPort int    `json:"container_port"`
		Protocol      string `json:"protocol"`
	} `json:"Ports"`
}

// parsePodmanPS decodes the structured container listing.
func parsePodmanPS(data []byte) ([]ServiceInstance, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var containers []podmanContainer
	if err := json.Unmarshal(data, &containers); err != nil {
		return nil, fmt.Errorf("failed to decode container listing: %w", err)
	}

	services := make([]ServiceInstance, 0, len(containers))
	for _, c := range containers {
		svc := ServiceInstance{Image: c.Image}
		if len(c.Names) > 0 {
			svc.Name = c.Names[0]
		}
		if len(c.Networks) > 0 {
			svc.Network = c.Networks[0]
		}
		for _, p := range c.Ports {
			svc.Ports = append(svc.Ports, PortMapping{
				HostPort:      p.HostPort,
				ContainerPort: p.ContainerPort,
				Protocol:      p.Protocol,
			})
		}
		services = append(services, svc)
	}
	return services, nil
}

// dockerContainer matches one line of `docker ps --format '{{json .}}'`.
// Ports come as display text, not structure.
type dockerContainer struct {
	Names    string `json:"Names"`
	Image    string `json:"Image"`
	Networks string `json:"Networks"`
	Ports    string `json:"Ports"`
}

// dockerPortRe matches one "0.0.0.0:8080->80/tcp" mapping.
var dockerPortRe = regexp.MustCompile(`:(\d+)->(\d+)/(\w+)$`)

// parseDockerPS decodes the line-per-container docker listing.
func parseDockerPS(stdout string) ([]ServiceInstance, error) {
	var services []ServiceInstance
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var c dockerContainer
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, fmt.Errorf("failed to decode container line: %w", err)
		}

		svc := ServiceInstance{Name: c.Names, Image: c.Image, Network: c.Networks}
		seen := make(map[int]bool)
		for _, part := range strings.Split(c.Ports, ",") {
			m := dockerPortRe.FindStringSubmatch(strings.TrimSpace(part))
			if m == nil {
				continue
			}
			hostPort, _ := strconv.Atoi(m[1])
			containerPort, _ := strconv.Atoi(m[2])
			if hostPort == 0 || seen[hostPort] {
				continue
			}
			seen[hostPort] = true
			svc.Ports = append(svc.Ports, PortMapping{
				HostPort:      hostPort,
				ContainerPort: containerPort,
				Protocol:      m[3],
			})
		}
		services = append(services, svc)
	}
	return services, nil
}

// socketProcRe extracts the process name from the ss process column,
// e.g. users:(("nginx",pid=1234,fd=6)).
var socketProcRe = regexp.MustCompile(`users:\(\("([^"]+)"`)

// parseSocketTable parses headerless `ss -tln[p]` output into
// port -> process name. Ports without a process column map to "".
func parseSocketTable(stdout string) map[int]string {
	ports := make(map[int]string)
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		// Local address is the fourth column; the port is everything
		// after the last colon ("[::]:3000" and "0.0.0.0:3000" alike).
		local := fields[3]
		idx := strings.LastIndex(local, ":")
		if idx < 0 {
			continue
		}
		port, err := strconv.Atoi(local[idx+1:])
		if err != nil || port <= 0 {
			continue
		}

		proc := ""
		if m := socketProcRe.FindStringSubmatch(line); m != nil {
			proc = m[1]
		}

		// Dual-stack listeners show up twice; keep the named entry.
		if existing, ok := ports[port]; ok && existing != "" {
			continue
		}
		ports[port] = proc
	}
	return ports
}

// keyspaceRe matches one "db3:keys=42,expires=0,avg_ttl=0" line of
// `redis-cli INFO keyspace`.
var keyspaceRe = regexp.MustCompile(`^db(\d+):keys=(\d+)`)

// parseKeyspaceInfo parses the cache server keyspace summary into
// index -> key count.
func parseKeyspaceInfo(stdout string) map[int]int64 {
	indexes := make(map[int]int64)
	for _, line := range strings.Split(stdout, "\n") {
		m := keyspaceRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		keys, _ := strconv.ParseInt(m[2], 10, 64)
		indexes[idx] = keys
	}
	return indexes
}
