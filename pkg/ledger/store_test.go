package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return store
}

func TestRecordPort_AndActivePorts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := &PortRecord{
		Host:        "test-host",
		Project:     "shopfront",
		Environment: "staging",
		Kind:        "app",
		Port:        3000,
	}
	if err := store.RecordPort(ctx, rec); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if rec.ID == "" {
		t.Error("Expected an ID to be assigned")
	}
	if rec.AllocatedAt.IsZero() {
		t.Error("Expected AllocatedAt to be stamped")
	}

	active, err := store.ActivePorts(ctx, "test-host")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if active[3000] != "shopfront" {
		t.Errorf("Expected shopfront on 3000, got %q", active[3000])
	}
}

func TestRecordPort_IdempotentForSameProject(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := &PortRecord{Host: "test-host", Project: "shopfront", Environment: "staging", Kind: "app", Port: 3000}
	if err := store.RecordPort(ctx, rec); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	again := &PortRecord{Host: "test-host", Project: "shopfront", Environment: "staging", Kind: "app", Port: 3000}
	if err := store.RecordPort(ctx, again); err != nil {
		t.Errorf("Expected re-recording by the same project to succeed, got: %v", err)
	}

	active, err := store.ActivePorts(ctx, "test-host")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("Expected 1 active entry, got %d", len(active))
	}
}

func TestRecordPort_RejectsDifferentProject(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.RecordPort(ctx, &PortRecord{Host: "test-host", Project: "shopfront", Port: 3000}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := store.RecordPort(ctx, &PortRecord{Host: "test-host", Project: "billing", Port: 3000}); err == nil {
		t.Error("Expected error when a different project records the same port")
	}
}

func TestReleasePort(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.RecordPort(ctx, &PortRecord{Host: "test-host", Project: "shopfront", Port: 3000}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := store.ReleasePort(ctx, "test-host", 3000); err != nil {
		t.Fatalf("Expected release to succeed, got: %v", err)
	}

	active, err := store.ActivePorts(ctx, "test-host")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected no active entries after release, got %d", len(active))
	}

	// The slot is free again for any project.
	if err := store.RecordPort(ctx, &PortRecord{Host: "test-host", Project: "billing", Port: 3000}); err != nil {
		t.Errorf("Expected released port to be recordable, got: %v", err)
	}
}

func TestReleasePort_NoActiveEntry(t *testing.T) {
	store := setupTestStore(t)
	if err := store.ReleasePort(context.Background(), "test-host", 9999); err == nil {
		t.Error("Expected error releasing an unrecorded port")
	}
}

func TestActivePorts_ScopedByHost(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.RecordPort(ctx, &PortRecord{Host: "host-a", Project: "shopfront", Port: 3000}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := store.RecordPort(ctx, &PortRecord{Host: "host-b", Project: "billing", Port: 3000}); err != nil {
		t.Fatalf("Expected same port on another host to be independent, got: %v", err)
	}

	active, err := store.ActivePorts(ctx, "host-a")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(active) != 1 || active[3000] != "shopfront" {
		t.Errorf("Expected only host-a's entry, got %v", active)
	}
}

func TestRecordRun_AndListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	finished := time.Now().UTC()
	runs := []*Run{
		{Host: "test-host", Project: "shopfront", Status: RunStatusSucceeded, StartedAt: finished.Add(-2 * time.Minute), FinishedAt: &finished},
		{Host: "test-host", Project: "billing", Status: RunStatusPartial, Detail: `[{"kind":"storage","status":"failed"}]`, StartedAt: finished.Add(-time.Minute), FinishedAt: &finished},
	}
	for _, run := range runs {
		if err := store.RecordRun(ctx, run); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if run.ID == "" {
			t.Error("Expected an ID to be assigned")
		}
	}

	listed, err := store.ListRuns(ctx, "test-host", 10)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(listed))
	}
	// Newest first.
	if listed[0].Project != "billing" {
		t.Errorf("Expected newest run first, got %q", listed[0].Project)
	}
	if listed[0].Status != RunStatusPartial {
		t.Errorf("Expected partial status, got %s", listed[0].Status)
	}
	if listed[0].Detail == "" {
		t.Error("Expected detail to survive the round trip")
	}
}

func TestListRuns_Limit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		run := &Run{Host: "test-host", Project: "shopfront", Status: RunStatusSucceeded,
			StartedAt: time.Now().UTC().Add(time.Duration(i) * time.Second)}
		if err := store.RecordRun(ctx, run); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	listed, err := store.ListRuns(ctx, "test-host", 3)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(listed) != 3 {
		t.Errorf("Expected 3 runs, got %d", len(listed))
	}
}
