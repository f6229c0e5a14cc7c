package scan

import "testing"

func TestParsePodmanPS(t *testing.T) {
	data := []byte(`[
  {
    "Names": ["shopfront-staging"],
    "Image": "registry.example.com/shopfront:latest",
    "Networks": ["apps"],
    "Ports": [
      {"host_port": 3000, "container_port": 8080, "protocol": "tcp"}
    ]
  },
  {
    "Names": ["postgres"],
    "Image": "docker.io/library/postgres:16",
    "Networks": [],
    "Ports": [
      {"host_port": 5432, "container_port": 5432, "protocol": "tcp"}
    ]
  }
]`)

	services, err := parsePodmanPS(data)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("Expected 2 services, got %d", len(services))
	}
	if services[0].Name != "shopfront-staging" {
		t.Errorf("Expected name shopfront-staging, got %q", services[0].Name)
	}
	if services[0].Network != "apps" {
		t.Errorf("Expected network apps, got %q", services[0].Network)
	}
	if len(services[0].Ports) != 1 || services[0].Ports[0].HostPort != 3000 {
		t.Errorf("Expected host port 3000, got %+v", services[0].Ports)
	}
}

func TestParsePodmanPS_Empty(t *testing.T) {
	services, err := parsePodmanPS(nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(services) != 0 {
		t.Errorf("Expected no services, got %d", len(services))
	}
}

func TestParsePodmanPS_Malformed(t *testing.T) {
	if _, err := parsePodmanPS([]byte("{not a list")); err == nil {
		t.Error("Expected error for malformed listing, got nil")
	}
}

func TestParseDockerPS(t *testing.T) {
	stdout := `{"Names":"shopfront-staging","Image":"shopfront:latest","Networks":"apps","Ports":"0.0.0.0:3000->8080/tcp, :::3000->8080/tcp"}
{"Names":"redis","Image":"redis:7","Networks":"apps","Ports":"127.0.0.1:6379->6379/tcp"}
`

	services, err := parseDockerPS(stdout)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("Expected 2 services, got %d", len(services))
	}

	// Dual-stack mapping appears once in display text per family; the
	// host port must be deduplicated.
	if len(services[0].Ports) != 1 {
		t.Fatalf("Expected 1 deduplicated port, got %d", len(services[0].Ports))
	}
	p := services[0].Ports[0]
	if p.HostPort != 3000 || p.ContainerPort != 8080 || p.Protocol != "tcp" {
		t.Errorf("Expected 3000->8080/tcp, got %+v", p)
	}
}

func TestParseDockerPS_IgnoresUnpublishedPorts(t *testing.T) {
	stdout := `{"Names":"worker","Image":"worker:latest","Networks":"apps","Ports":"8080/tcp"}`

	services, err := parseDockerPS(stdout)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(services) != 1 || len(services[0].Ports) != 0 {
		t.Errorf("Expected no published ports, got %+v", services)
	}
}

func TestParseSocketTable(t *testing.T) {
	stdout := `LISTEN 0      4096         0.0.0.0:3000       0.0.0.0:*    users:(("node",pid=1234,fd=20))
LISTEN 0      128             [::]:3000          [::]:*    users:(("node",pid=1234,fd=21))
LISTEN 0      244        127.0.0.1:5432       0.0.0.0:*    users:(("postgres",pid=987,fd=7))
LISTEN 0      128          0.0.0.0:22         0.0.0.0:*
`

	ports := parseSocketTable(stdout)
	if len(ports) != 3 {
		t.Fatalf("Expected 3 ports, got %d: %v", len(ports), ports)
	}
	if ports[3000] != "node" {
		t.Errorf("Expected node on 3000, got %q", ports[3000])
	}
	if ports[5432] != "postgres" {
		t.Errorf("Expected postgres on 5432, got %q", ports[5432])
	}
	if proc, ok := ports[22]; !ok || proc != "" {
		t.Errorf("Expected port 22 with empty process, got %q (present: %v)", proc, ok)
	}
}

func TestParseSocketTable_KeepsNamedDualStackEntry(t *testing.T) {
	// Without -p privileges only one family line may carry a name.
	stdout := `LISTEN 0 128 0.0.0.0:3000 0.0.0.0:* users:(("node",pid=1,fd=2))
LISTEN 0 128 [::]:3000 [::]:*
`
	ports := parseSocketTable(stdout)
	if ports[3000] != "node" {
		t.Errorf("Expected named entry to win, got %q", ports[3000])
	}
}

func TestParseKeyspaceInfo(t *testing.T) {
	stdout := "# Keyspace\r\ndb0:keys=105,expires=0,avg_ttl=0\r\ndb2:keys=7,expires=1,avg_ttl=3600\r\n"

	indexes := parseKeyspaceInfo(stdout)
	if len(indexes) != 2 {
		t.Fatalf("Expected 2 indexes, got %d", len(indexes))
	}
	if indexes[0] != 105 {
		t.Errorf("Expected 105 keys in db0, got %d", indexes[0])
	}
	if indexes[2] != 7 {
		t.Errorf("Expected 7 keys in db2, got %d", indexes[2])
	}
}

func TestParseKeyspaceInfo_EmptyKeyspace(t *testing.T) {
	if indexes := parseKeyspaceInfo("# Keyspace\r\n"); len(indexes) != 0 {
		t.Errorf("Expected no indexes, got %v", indexes)
	}
}
