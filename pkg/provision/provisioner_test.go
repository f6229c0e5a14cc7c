package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/openberth/openberth/pkg/registry"
	"github.com/openberth/openberth/pkg/remote"
	"github.com/openberth/openberth/pkg/scan"
	"github.com/openberth/openberth/pkg/slot"
)

// mockExecutor resolves commands by longest stubbed prefix; unmatched
// commands succeed with empty output. Files live in memory.
type mockExecutor struct {
	files     map[string][]byte
	responses map[string]string
	failures  map[string]error
	commands  []string
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{
		files:     make(map[string][]byte),
		responses: make(map[string]string),
		failures:  make(map[string]error),
	}
}

func (m *mockExecutor) Host() string { return "test-host" }

func (m *mockExecutor) run(command string) (string, error) {
	m.commands = append(m.commands, command)
	for prefix, err := range m.failures {
		if strings.HasPrefix(command, prefix) {
			return "", err
		}
	}
	for prefix, out := range m.responses {
		if strings.HasPrefix(command, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (m *mockExecutor) Execute(ctx context.Context, command string) (string, error) {
	return m.run(command)
}

func (m *mockExecutor) ExecuteAs(ctx context.Context, principal, command string) (string, error) {
	return m.run(principal + ": " + command)
}

func (m *mockExecutor) PushFile(ctx context.Context, content []byte, remotePath string, mode uint32) error {
	m.files[remotePath] = content
	return nil
}

func (m *mockExecutor) FetchFile(ctx context.Context, remotePath string) ([]byte, error) {
	content, ok := m.files[remotePath]
	if !ok {
		return nil, &remote.Error{Op: "fetch-file", Host: m.Host(), Err: fmt.Errorf("no such file"), IsNotFound: true}
	}
	return content, nil
}

func (m *mockExecutor) Close() error { return nil }

func (m *mockExecutor) executed(prefix string) bool {
	for _, c := range m.commands {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func newTestProvisioner(exec *mockExecutor) *Provisioner {
	// Empty container listing, empty socket table: the scan succeeds
	// with nothing observed unless a test stubbed its own listing.
	if _, ok := exec.responses["podman ps --format json"]; !ok {
		exec.responses["podman ps --format json"] = "[]"
	}
	if _, ok := exec.responses["root: ss"]; !ok {
		exec.responses["root: ss"] = ""
	}

	store := registry.NewStore(exec, "")
	scanner := scan.NewScanner(exec, nil)
	return NewProvisioner(exec, store, scanner, nil, nil, "")
}

func allKinds() []Kind { return []Kind{KindDatabase, KindCache, KindStorage} }

func TestProvision_FreshProject(t *testing.T) {
	exec := newMockExecutor()
	exec.failures["test -d"] = fmt.Errorf("exit status 1")
	p := newTestProvisioner(exec)

	outcome, err := p.Provision(context.Background(), Request{
		Project:     "shopfront",
		Type:        "web",
		Environment: slot.EnvStaging,
		Kinds:       allKinds(),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if outcome.AppPort != 3000 {
		t.Errorf("Expected first staging app port 3000, got %d", outcome.AppPort)
	}
	if outcome.Status() != "succeeded" {
		t.Errorf("Expected succeeded, got %s", outcome.Status())
	}
	if outcome.GeneratedCredential == "" {
		t.Error("Expected a generated credential on first user creation")
	}

	byKind := make(map[Kind]Result)
	for _, r := range outcome.Results {
		byKind[r.Kind] = r
	}
	if byKind[KindDatabase].Status != StatusCreated {
		t.Errorf("Expected database created, got %s", byKind[KindDatabase].Status)
	}
	if byKind[KindCache].Status != StatusCreated {
		t.Errorf("Expected cache created, got %s", byKind[KindCache].Status)
	}
	if byKind[KindStorage].Status != StatusCreated {
		t.Errorf("Expected storage created, got %s", byKind[KindStorage].Status)
	}

	if !exec.executed(`postgres: psql -c "CREATE USER shopfront_user WITH PASSWORD`) {
		t.Error("Expected user creation command")
	}
	if !exec.executed(`postgres: psql -c "CREATE DATABASE shopfront_db OWNER shopfront_user"`) {
		t.Error("Expected database creation command")
	}
	if !exec.executed("mkdir -p /srv/projects/shopfront/backups") {
		t.Error("Expected storage subdirectory creation")
	}
	if !exec.executed("chmod -R 750 /srv/projects/shopfront") {
		t.Error("Expected storage mode to be set")
	}

	// The registry was written once with everything recorded.
	reg, err := registry.NewStore(exec, "").Load(context.Background())
	if err != nil {
		t.Fatalf("Expected registry to load, got: %v", err)
	}
	proj, ok := reg.Projects["shopfront"]
	if !ok {
		t.Fatal("Expected project in registry")
	}
	if proj.Resources.Database == nil || proj.Resources.Database.Name != "shopfront_db" {
		t.Errorf("Expected database record, got %+v", proj.Resources.Database)
	}
	if proj.Resources.Cache == nil || proj.Resources.Cache.Index == nil || *proj.Resources.Cache.Index != 0 {
		t.Errorf("Expected cache index 0, got %+v", proj.Resources.Cache)
	}
	if proj.Environments[slot.EnvStaging] == nil || proj.Environments[slot.EnvStaging].Port != 3000 {
		t.Errorf("Expected staging binding on 3000, got %+v", proj.Environments[slot.EnvStaging])
	}
}

func TestProvision_RerunSkipsRecordedResources(t *testing.T) {
	exec := newMockExecutor()
	exec.failures["test -d"] = fmt.Errorf("exit status 1")
	p := newTestProvisioner(exec)
	ctx := context.Background()

	req := Request{Project: "shopfront", Environment: slot.EnvStaging, Kinds: allKinds()}
	first, err := p.Provision(ctx, req)
	if err != nil {
		t.Fatalf("Expected first run to succeed, got: %v", err)
	}

	second, err := p.Provision(ctx, req)
	if err != nil {
		t.Fatalf("Expected re-run to succeed, got: %v", err)
	}

	if second.AppPort != first.AppPort {
		t.Errorf("Expected stable app port %d, got %d", first.AppPort, second.AppPort)
	}
	if second.GeneratedCredential != "" {
		t.Error("Expected no new credential on re-run")
	}

	byKind := make(map[Kind]Result)
	for _, r := range second.Results {
		byKind[r.Kind] = r
	}
	if byKind[KindDatabase].Status != StatusSkipped {
		t.Errorf("Expected database skipped on re-run, got %s", byKind[KindDatabase].Status)
	}
	if byKind[KindCache].Status != StatusSkipped {
		t.Errorf("Expected cache skipped on re-run, got %s", byKind[KindCache].Status)
	}
}

func TestProvision_RerunWithOwnPortIsNotAConflict(t *testing.T) {
	exec := newMockExecutor()
	p := newTestProvisioner(exec)
	ctx := context.Background()

	first, err := p.Provision(ctx, Request{Project: "shopfront", Environment: slot.EnvStaging})
	if err != nil {
		t.Fatalf("Expected first run to succeed, got: %v", err)
	}

	// Re-running with the recorded port spelled out must keep it, not
	// collide with the project's own registry reservation.
	second, err := p.Provision(ctx, Request{
		Project:     "shopfront",
		Environment: slot.EnvStaging,
		AppPort:     first.AppPort,
	})
	if err != nil {
		t.Fatalf("Expected re-run with own port to succeed, got: %v", err)
	}
	if second.AppPort != first.AppPort {
		t.Errorf("Expected port %d kept, got %d", first.AppPort, second.AppPort)
	}
	if second.Substituted {
		t.Error("Expected no substitution on re-run with own port")
	}
}

func TestProvision_ConflictWithoutAutoResolve(t *testing.T) {
	exec := newMockExecutor()
	exec.responses["root: ss"] = `LISTEN 0 128 0.0.0.0:3000 0.0.0.0:* users:(("node",pid=1,fd=2))` + "\n"
	p := newTestProvisioner(exec)

	_, err := p.Provision(context.Background(), Request{
		Project:     "shopfront",
		Environment: slot.EnvStaging,
		Kinds:       nil,
		AppPort:     3000,
	})

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Expected ConflictError, got: %v", err)
	}
	if conflict.Requested != 3000 || conflict.Suggested != 3001 {
		t.Errorf("Expected 3000 -> 3001, got %d -> %d", conflict.Requested, conflict.Suggested)
	}
	if conflict.Owner != "node" {
		t.Errorf("Expected owner node, got %q", conflict.Owner)
	}
}

func TestProvision_ConflictWithAutoResolve(t *testing.T) {
	exec := newMockExecutor()
	exec.responses["root: ss"] = `LISTEN 0 128 0.0.0.0:3000 0.0.0.0:* users:(("node",pid=1,fd=2))` + "\n"
	p := newTestProvisioner(exec)

	outcome, err := p.Provision(context.Background(), Request{
		Project:     "shopfront",
		Environment: slot.EnvStaging,
		AppPort:     3000,
		AutoResolve: true,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !outcome.Substituted {
		t.Error("Expected substitution to be flagged")
	}
	if outcome.RequestedApp != 3000 || outcome.AppPort != 3001 {
		t.Errorf("Expected 3000 substituted by 3001, got %d -> %d", outcome.RequestedApp, outcome.AppPort)
	}
}

func TestProvision_PartialFailureStillSavesRegistry(t *testing.T) {
	exec := newMockExecutor()
	exec.failures["test -d"] = fmt.Errorf("exit status 1")
	exec.failures["mkdir -p"] = fmt.Errorf("permission denied")
	p := newTestProvisioner(exec)

	outcome, err := p.Provision(context.Background(), Request{
		Project:     "shopfront",
		Environment: slot.EnvStaging,
		Kinds:       allKinds(),
	})
	if err != nil {
		t.Fatalf("Expected partial failure to not fail the run, got: %v", err)
	}
	if outcome.Status() != "partial" {
		t.Errorf("Expected partial status, got %s", outcome.Status())
	}

	reg, err := registry.NewStore(exec, "").Load(context.Background())
	if err != nil {
		t.Fatalf("Expected registry to load, got: %v", err)
	}
	proj := reg.Projects["shopfront"]
	if proj == nil {
		t.Fatal("Expected project in registry despite partial failure")
	}
	if proj.Resources.Database == nil {
		t.Error("Expected successful database step to be recorded")
	}
	if proj.Resources.Storage != nil {
		t.Error("Expected failed storage step to not be recorded")
	}
}

func TestProvision_InvalidProjectName(t *testing.T) {
	p := newTestProvisioner(newMockExecutor())
	if _, err := p.Provision(context.Background(), Request{Project: "Bad Name", Environment: slot.EnvStaging}); err == nil {
		t.Error("Expected error for invalid project name")
	}
}

func TestProvision_UnknownEnvironment(t *testing.T) {
	p := newTestProvisioner(newMockExecutor())
	if _, err := p.Provision(context.Background(), Request{Project: "shopfront", Environment: "qa"}); err == nil {
		t.Error("Expected error for unknown environment")
	}
}

func TestDatabaseNaming(t *testing.T) {
	if got := DatabaseName("my-shop"); got != "my_shop_db" {
		t.Errorf("Expected my_shop_db, got %q", got)
	}
	if got := DatabaseUser("my-shop"); got != "my_shop_user" {
		t.Errorf("Expected my_shop_user, got %q", got)
	}
}

func TestGeneratePassword(t *testing.T) {
	p1, err := GeneratePassword(32)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(p1) != 32 {
		t.Errorf("Expected length 32, got %d", len(p1))
	}
	for _, c := range p1 {
		if !strings.ContainsRune(passwordAlphabet, c) {
			t.Errorf("Unexpected character %q in credential", c)
		}
	}

	p2, _ := GeneratePassword(32)
	if p1 == p2 {
		t.Error("Expected two generated credentials to differ")
	}
}
