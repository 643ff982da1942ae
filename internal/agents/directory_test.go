package agents

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryDirectory(t *testing.T) {
	d := NewMemoryDirectory(
		Agent{ID: "b", WorkspaceKey: "repoB"},
		Agent{ID: "a", WorkspaceKey: "repoA", Status: AgentOffline},
	)

	all := d.GetAllAgents()
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Fatalf("GetAllAgents: got %+v", all)
	}
	if all[1].Status != AgentIdle {
		t.Errorf("default status: got %s, want idle", all[1].Status)
	}

	if !d.SetStatus("b", AgentBusy) {
		t.Fatal("SetStatus(b) returned false")
	}
	if got, _ := d.GetAgent("b"); got.Status != AgentBusy {
		t.Errorf("status after SetStatus: got %s", got.Status)
	}
	if d.SetStatus("missing", AgentBusy) {
		t.Error("SetStatus(missing) should return false")
	}

	if !d.Heartbeat("a", t0) {
		t.Fatal("Heartbeat(a) returned false")
	}
	if got, _ := d.GetAgent("a"); !got.LastSeenAt.Equal(t0) {
		t.Errorf("LastSeenAt: got %v", got.LastSeenAt)
	}

	d.Remove("a")
	if _, ok := d.GetAgent("a"); ok {
		t.Error("agent a should be gone")
	}

	d.Upsert(Agent{ID: "c"})
	if len(d.GetAllAgents()) != 2 {
		t.Errorf("after upsert: got %d agents", len(d.GetAllAgents()))
	}
}

func writeAgents(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write agents file: %v", err)
	}
}

func TestFileDirectoryLoad(t *testing.T) {
	dir := t.TempDir()
	writeAgents(t, filepath.Join(dir, "builders.yaml"), `
agents:
  - id: builder-1
    workspace_key: repoA
  - id: builder-2
    workspace_key: repoB
    status: offline
`)
	writeAgents(t, filepath.Join(dir, "nested", "more.yaml"), `
agents:
  - id: runner-1
`)
	writeAgents(t, filepath.Join(dir, "notes.txt"), "not yaml agents")

	d, err := NewFileDirectory([]string{filepath.Join(dir, "**", "*.yaml")})
	if err != nil {
		t.Fatalf("NewFileDirectory: %v", err)
	}

	all := d.GetAllAgents()
	if len(all) != 3 {
		t.Fatalf("agents: got %d, want 3 (%+v)", len(all), all)
	}
	b2, ok := d.GetAgent("builder-2")
	if !ok || b2.Status != AgentOffline || b2.WorkspaceKey != "repoB" {
		t.Errorf("builder-2: got %+v", b2)
	}
	r1, _ := d.GetAgent("runner-1")
	if r1.Status != AgentIdle {
		t.Errorf("runner-1 status: got %s, want idle", r1.Status)
	}
}

func TestFileDirectoryInvalidStatus(t *testing.T) {
	dir := t.TempDir()
	writeAgents(t, filepath.Join(dir, "a.yaml"), `
agents:
  - id: x
    status: sleeping
`)
	if _, err := NewFileDirectory([]string{filepath.Join(dir, "*.yaml")}); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestFileDirectoryReloadKeepsBusy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.yaml")
	writeAgents(t, path, "agents:\n  - id: a\n  - id: b\n")

	d, err := NewFileDirectory([]string{filepath.Join(dir, "*.yaml")})
	if err != nil {
		t.Fatalf("NewFileDirectory: %v", err)
	}
	d.SetStatus("a", AgentBusy)

	writeAgents(t, path, "agents:\n  - id: a\n  - id: c\n")
	if err := d.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if a, _ := d.GetAgent("a"); a.Status != AgentBusy {
		t.Errorf("a status after reload: got %s, want busy", a.Status)
	}
	if _, ok := d.GetAgent("b"); ok {
		t.Error("b should be gone after reload")
	}
	if _, ok := d.GetAgent("c"); !ok {
		t.Error("c should be present after reload")
	}
}

func TestFileDirectoryWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.yaml")
	writeAgents(t, path, "agents:\n  - id: a\n")

	d, err := NewFileDirectory([]string{filepath.Join(dir, "*.yaml")})
	if err != nil {
		t.Fatalf("NewFileDirectory: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeAgents(t, filepath.Join(dir, "b.yaml"), "agents:\n  - id: b\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := d.GetAgent("b"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("agent b not picked up by watcher")
}
