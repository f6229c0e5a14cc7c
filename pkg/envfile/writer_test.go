package envfile

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/openberth/openberth/pkg/remote"
)

type mockExecutor struct {
	files   map[string][]byte
	pushErr map[string]error
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{files: make(map[string][]byte), pushErr: make(map[string]error)}
}

func (m *mockExecutor) Host() string { return "test-host" }

func (m *mockExecutor) Execute(ctx context.Context, command string) (string, error) {
	return "", nil
}

func (m *mockExecutor) ExecuteAs(ctx context.Context, principal, command string) (string, error) {
	return "", nil
}

func (m *mockExecutor) PushFile(ctx context.Context, content []byte, remotePath string, mode uint32) error {
	if err := m.pushErr[remotePath]; err != nil {
		return err
	}
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

func TestWriter_Push_FirstWrite(t *testing.T) {
	exec := newMockExecutor()
	w := NewWriter(exec, "")

	draft := []byte("APP_PORT=3000\n")
	if err := w.Push(context.Background(), draft, "/etc/berth/env/shopfront.staging.env", "shopfront"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if string(exec.files["/etc/berth/env/shopfront.staging.env"]) != "APP_PORT=3000\n" {
		t.Errorf("Expected draft written verbatim, got %q", exec.files["/etc/berth/env/shopfront.staging.env"])
	}
}

func TestWriter_Push_MergesExisting(t *testing.T) {
	exec := newMockExecutor()
	exec.files["/etc/berth/env/shopfront.staging.env"] = []byte("DATABASE_URL=postgres://old@db/old\nAPP_PORT=3000\n")
	w := NewWriter(exec, "")

	draft := []byte("DATABASE_URL=postgres://new@db/new\nAPP_PORT=3002\n")
	if err := w.Push(context.Background(), draft, "/etc/berth/env/shopfront.staging.env", "shopfront"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	merged := string(exec.files["/etc/berth/env/shopfront.staging.env"])
	if !strings.Contains(merged, "DATABASE_URL=postgres://old@db/old") {
		t.Errorf("Expected protected key to survive\n%s", merged)
	}
	if !strings.Contains(merged, "APP_PORT=3002") {
		t.Errorf("Expected unprotected key updated\n%s", merged)
	}
}

func TestWriter_Push_MirrorsToBackup(t *testing.T) {
	exec := newMockExecutor()
	w := NewWriter(exec, "/var/backups/berth")

	if err := w.Push(context.Background(), []byte("APP_PORT=3000\n"), "/etc/berth/env/shopfront.staging.env", "shopfront"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, ok := exec.files["/var/backups/berth/shopfront.env"]; !ok {
		t.Error("Expected backup mirror to be written")
	}
}

func TestWriter_Push_FailedMirrorIsNotFatal(t *testing.T) {
	exec := newMockExecutor()
	exec.pushErr["/var/backups/berth/shopfront.env"] = fmt.Errorf("disk full")
	w := NewWriter(exec, "/var/backups/berth")

	if err := w.Push(context.Background(), []byte("APP_PORT=3000\n"), "/etc/berth/env/shopfront.staging.env", "shopfront"); err != nil {
		t.Errorf("Expected failed mirror to be a warning only, got: %v", err)
	}
	if _, ok := exec.files["/etc/berth/env/shopfront.staging.env"]; !ok {
		t.Error("Expected primary write to land")
	}
}
