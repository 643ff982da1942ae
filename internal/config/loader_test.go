package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	content := `{
	// This is a JSONC comment
	"gateway": {
		"host": "0.0.0.0",
		"port": 9999,
	},
	"orchestrator": {
		"interval": "500ms",
		"cooldown": "5m",
	},
	"storage": {
		"driver": "sqlite",
		"path": "${{ .Env.ORCHESTRA_TEST_DB }}",
		"keep_snapshots": 5,
	},
	"agents": {
		/* two sources */
		"files": ["/etc/orchestra/agents.yaml", "/srv/agents/**/*.yml"],
		"watch": false
	}
}`
	path := writeConfig(t, content)
	t.Setenv("ORCHESTRA_TEST_DB", "/var/lib/orchestra.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Gateway.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Gateway.Port)
	}
	if cfg.Orchestrator.Interval.Duration() != 500*time.Millisecond {
		t.Errorf("expected interval 500ms, got %s", cfg.Orchestrator.Interval.Duration())
	}
	if cfg.Orchestrator.Cooldown.Duration() != 5*time.Minute {
		t.Errorf("expected cooldown 5m, got %s", cfg.Orchestrator.Cooldown.Duration())
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/var/lib/orchestra.db" {
		t.Errorf("storage: got %+v", cfg.Storage)
	}
	if cfg.Storage.KeepSnapshots != 5 {
		t.Errorf("expected keep_snapshots 5, got %d", cfg.Storage.KeepSnapshots)
	}
	if len(cfg.Agents.Files) != 2 {
		t.Errorf("expected 2 agent file patterns, got %v", cfg.Agents.Files)
	}
	if cfg.Agents.WatchEnabled() {
		t.Error("expected watch disabled")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ORCHESTRA_PATH", "/tmp/orch")
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("expected default host 127.0.0.1, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 18430 {
		t.Errorf("expected default port 18430, got %d", cfg.Gateway.Port)
	}
	if cfg.Orchestrator.Interval.Duration() != 2*time.Second {
		t.Errorf("expected default interval 2s, got %s", cfg.Orchestrator.Interval.Duration())
	}
	if cfg.Orchestrator.Cooldown.Duration() != time.Minute {
		t.Errorf("expected default cooldown 60s, got %s", cfg.Orchestrator.Cooldown.Duration())
	}
	if cfg.Orchestrator.PersistRetries != 3 || cfg.Orchestrator.PersistBackoff.Duration() != 100*time.Millisecond {
		t.Errorf("persist defaults: got %+v", cfg.Orchestrator)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path != "/tmp/orch/state/snapshot.json" {
		t.Errorf("storage defaults: got %+v", cfg.Storage)
	}
	if cfg.Storage.PruneSchedule != "@every 10m" || cfg.Storage.KeepSnapshots != 20 {
		t.Errorf("prune defaults: got %+v", cfg.Storage)
	}
	if len(cfg.Agents.Files) != 1 || cfg.Agents.Files[0] != "/tmp/orch/agents/*.yaml" {
		t.Errorf("agent files default: got %v", cfg.Agents.Files)
	}
	if !cfg.Agents.WatchEnabled() {
		t.Error("expected watch enabled by default")
	}
	if cfg.Events.BufferSize != 1024 {
		t.Errorf("expected default buffer 1024, got %d", cfg.Events.BufferSize)
	}
}

func TestLoadDefaults_SQLitePath(t *testing.T) {
	t.Setenv("ORCHESTRA_PATH", "/tmp/orch")
	cfg, err := Load(writeConfig(t, `{"storage": {"driver": "sqlite"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Path != "/tmp/orch/orchestra.db" {
		t.Errorf("expected sqlite default path, got %q", cfg.Storage.Path)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	t.Setenv("ORCHESTRA_PATH", "/tmp/orch")
	cfg, err := Load(writeConfig(t, `{
		"storage": {"driver": "sqlite", "path": "db/state.db"},
		"agents": {"files": ["fleet/*.yaml", "/etc/orchestra/agents.yaml"]},
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Path != "/tmp/orch/db/state.db" {
		t.Errorf("storage path: %q", cfg.Storage.Path)
	}
	if cfg.Agents.Files[0] != "/tmp/orch/fleet/*.yaml" || cfg.Agents.Files[1] != "/etc/orchestra/agents.yaml" {
		t.Errorf("agent files: %v", cfg.Agents.Files)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", `{"storage": {"driver": "redis"}}`},
		{"bad duration", `{"orchestrator": {"interval": "soon"}}`},
		{"port out of range", `{"gateway": {"port": 70000}}`},
		{"negative retries", `{"orchestrator": {"persist_retries": -1}}`},
		{"not jsonc", `{"gateway": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNormalize_DriverOverride(t *testing.T) {
	t.Setenv("ORCHESTRA_PATH", "/tmp/orch")
	cfg := Default()
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Path = ""
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Storage.Path != "/tmp/orch/orchestra.db" {
		t.Errorf("path not recomputed: %q", cfg.Storage.Path)
	}

	cfg.Storage.Driver = "etcd"
	if err := Normalize(cfg); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.jsonc"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Gateway.Port != 18430 {
		t.Errorf("expected defaults, got port %d", cfg.Gateway.Port)
	}
}

func TestExpandEnvTemplates(t *testing.T) {
	t.Setenv("TEST_KEY", "my-secret")
	result := expandEnvTemplates(`{"key": "${{ .Env.TEST_KEY }}"}`)
	expected := `{"key": "my-secret"}`
	if result != expected {
		t.Errorf("expected %s, got %s", expected, result)
	}
}
