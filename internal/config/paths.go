package config

import (
	"os"
	"path/filepath"
	"strings"
)

// OrchestraPath is the data root: $ORCHESTRA_PATH, else ~/.orchestra.
func OrchestraPath() string {
	if v := os.Getenv("ORCHESTRA_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".orchestra"
	}
	return filepath.Join(home, ".orchestra")
}

func ConfigPath() string {
	return filepath.Join(OrchestraPath(), "config.jsonc")
}

func DotenvPath() string {
	return filepath.Join(OrchestraPath(), ".env")
}

// HeartbeatPath is where a running server records its liveness.
func HeartbeatPath() string {
	return filepath.Join(OrchestraPath(), "heartbeat.json")
}

// ResolvePath expands a leading "~/" and anchors relative paths (and glob
// patterns) under the data root. Absolute paths are returned cleaned.
func ResolvePath(p string) string {
	switch {
	case p == "":
		return ""
	case p == "~" || strings.HasPrefix(p, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
		return filepath.Clean(p)
	case filepath.IsAbs(p):
		return filepath.Clean(p)
	default:
		return filepath.Join(OrchestraPath(), p)
	}
}
