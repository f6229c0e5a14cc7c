package scan

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openberth/openberth/pkg/registry"
	"github.com/openberth/openberth/pkg/remote"
	"github.com/openberth/openberth/pkg/telemetry"
)

// Scanner collects observed state from one managed host.
type Scanner struct {
	exec    remote.Executor
	metrics *telemetry.Metrics
}

// NewScanner creates a scanner bound to an executor. metrics may be nil.
func NewScanner(exec remote.Executor, metrics *telemetry.Metrics) *Scanner {
	return &Scanner{exec: exec, metrics: metrics}
}

// ScanPorts aggregates three independent sources into the authoritative
// used set:
//
//  1. running-service port mappings (service name becomes the owner),
//  2. the raw socket table ("system" when nothing better is known,
//     never overwriting a service label),
//  3. registry-declared ports, which seed owner labels for ports the
//     raw scan saw but could not name and keep registry-held slots out
//     of the allocatable pool.
//
// Sources 1 and 2 additionally populate Listening, so callers can tell
// a port that is actually in use from one that is merely reserved.
//
// Each source is best-effort; a failed source is recorded as a gap and
// the scan proceeds with partial data.
func (s *Scanner) ScanPorts(ctx context.Context, reg *registry.Registry) (*Observed, error) {
	obs := &Observed{
		UsedPorts: make(map[int]string),
		Listening: make(map[int]string),
	}

	services, err := s.ScanServices(ctx)
	if err != nil {
		log.Warn().Err(err).Str("host", s.exec.Host()).Msg("service listing failed, scan proceeding without it")
		obs.Gaps = append(obs.Gaps, "services")
		s.metrics.ObserveScanSource("services", false)
	} else {
		obs.Services = services
		for _, svc := range services {
			for _, pm := range svc.Ports {
				if pm.HostPort > 0 {
					obs.UsedPorts[pm.HostPort] = svc.Name
					obs.Listening[pm.HostPort] = svc.Name
				}
			}
		}
		s.metrics.ObserveScanSource("services", true)
	}

	sockets, err := s.scanSocketTable(ctx)
	if err != nil {
		log.Warn().Err(err).Str("host", s.exec.Host()).Msg("socket enumeration failed, scan proceeding without it")
		obs.Gaps = append(obs.Gaps, "sockets")
		s.metrics.ObserveScanSource("sockets", false)
	} else {
		for port, proc := range sockets {
			if _, labelled := obs.UsedPorts[port]; labelled {
				// A service label from source 1 always wins.
				continue
			}
			if proc == "" {
				proc = SystemOwner
			}
			obs.UsedPorts[port] = proc
			obs.Listening[port] = proc
		}
		s.metrics.ObserveScanSource("sockets", true)
	}

	if reg != nil {
		for port, owner := range reg.UsedPorts() {
			current, seen := obs.UsedPorts[port]
			switch {
			case !seen:
				// Reserved but not listening: blocks allocation, never
				// enters the Listening set.
				obs.UsedPorts[port] = owner
			case current == SystemOwner:
				// The raw scan found the port but could not name it;
				// the registry can.
				obs.UsedPorts[port] = owner
				obs.Listening[port] = owner
			}
		}
	}

	log.Info().
		Str("host", s.exec.Host()).
		Int("used_ports", len(obs.UsedPorts)).
		Int("listening", len(obs.Listening)).
		Int("services", len(obs.Services)).
		Strs("gaps", obs.Gaps).
		Msg("port scan completed")

	return obs, nil
}

// ScanServices lists running service instances. The container runtime's
// structured JSON listing is preferred; the docker text format is the
// fallback, parsed behind the adapter in parse.go.
func (s *Scanner) ScanServices(ctx context.Context) ([]ServiceInstance, error) {
	stdout, err := s.exec.Execute(ctx, "podman ps --format json")
	if err == nil {
		return parsePodmanPS([]byte(stdout))
	}

	stdout, dockerErr := s.exec.Execute(ctx, "docker ps --format '{{json .}}'")
	if dockerErr == nil {
		return parseDockerPS(stdout)
	}

	return nil, fmt.Errorf("no container runtime answered: podman: %v, docker: %w", err, dockerErr)
}

// scanSocketTable enumerates listening TCP sockets. Process names need
// elevated privileges; the unprivileged listing is the fallback and
// yields unlabelled ports.
func (s *Scanner) scanSocketTable(ctx context.Context) (map[int]string, error) {
	stdout, err := s.exec.ExecuteAs(ctx, "root", "ss -H -tlnp")
	if err != nil {
		stdout, err = s.exec.Execute(ctx, "ss -H -tln")
		if err != nil {
			return nil, fmt.Errorf("socket enumeration failed: %w", err)
		}
	}
	return parseSocketTable(stdout), nil
}

// ScanDatabases lists the logical databases on the shared database
// server, queried as the database principal.
func (s *Scanner) ScanDatabases(ctx context.Context, principal string) ([]string, error) {
	stdout, err := s.exec.ExecuteAs(ctx, principal,
		`psql -At -c "SELECT datname FROM pg_database WHERE datistemplate = false"`)
	if err != nil {
		return nil, fmt.Errorf("database inventory failed: %w", err)
	}

	var names []string
	for _, line := range strings.Split(stdout, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// ScanDatabaseUsers lists the roles on the shared database server.
func (s *Scanner) ScanDatabaseUsers(ctx context.Context, principal string) ([]string, error) {
	stdout, err := s.exec.ExecuteAs(ctx, principal,
		`psql -At -c "SELECT rolname FROM pg_roles WHERE rolcanlogin = true"`)
	if err != nil {
		return nil, fmt.Errorf("database user inventory failed: %w", err)
	}

	var users []string
	for _, line := range strings.Split(stdout, "\n") {
		if user := strings.TrimSpace(line); user != "" {
			users = append(users, user)
		}
	}
	return users, nil
}

// ScanCacheIndexes reports which cache indices hold keys, from the
// cache server's keyspace summary.
func (s *Scanner) ScanCacheIndexes(ctx context.Context) (map[int]int64, error) {
	stdout, err := s.exec.Execute(ctx, "redis-cli INFO keyspace")
	if err != nil {
		return nil, fmt.Errorf("cache keyspace inventory failed: %w", err)
	}
	return parseKeyspaceInfo(stdout), nil
}
