package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathsUnderDataRoot(t *testing.T) {
	t.Setenv("ORCHESTRA_PATH", "/srv/orchestra")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"root", OrchestraPath(), "/srv/orchestra"},
		{"config", ConfigPath(), "/srv/orchestra/config.jsonc"},
		{"dotenv", DotenvPath(), "/srv/orchestra/.env"},
		{"heartbeat", HeartbeatPath(), "/srv/orchestra/heartbeat.json"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestOrchestraPathDefaultsToHome(t *testing.T) {
	t.Setenv("ORCHESTRA_PATH", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got, want := OrchestraPath(), filepath.Join(home, ".orchestra"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("ORCHESTRA_PATH", "/srv/orchestra")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/var/lib/orchestra/../orchestra/state.db", "/var/lib/orchestra/state.db"},
		{"agents/*.yaml", "/srv/orchestra/agents/*.yaml"},
		{"~/fleet/agents.yaml", filepath.Join(home, "fleet", "agents.yaml")},
	}
	for _, tt := range tests {
		if got := ResolvePath(tt.in); got != tt.want {
			t.Errorf("ResolvePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
