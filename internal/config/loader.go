package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// standardizes it to plain JSON, unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but returns the defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Parse decodes JSONC content into a Config with defaults applied.
func Parse(data []byte) (*Config, error) {
	// Expand environment variable templates (before standardizing, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18430
	}

	if cfg.Orchestrator.Interval == 0 {
		cfg.Orchestrator.Interval = Duration(2 * time.Second)
	}
	if cfg.Orchestrator.Cooldown == 0 {
		cfg.Orchestrator.Cooldown = Duration(60 * time.Second)
	}
	if cfg.Orchestrator.PersistRetries == 0 {
		cfg.Orchestrator.PersistRetries = 3
	}
	if cfg.Orchestrator.PersistBackoff == 0 {
		cfg.Orchestrator.PersistBackoff = Duration(100 * time.Millisecond)
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "file"
	}
	cfg.Storage.Path = ResolvePath(cfg.Storage.Path)
	if cfg.Storage.Path == "" {
		switch cfg.Storage.Driver {
		case "file":
			cfg.Storage.Path = filepath.Join(OrchestraPath(), "state", "snapshot.json")
		case "sqlite":
			cfg.Storage.Path = filepath.Join(OrchestraPath(), "orchestra.db")
		}
	}
	if cfg.Storage.KeepSnapshots == 0 {
		cfg.Storage.KeepSnapshots = 20
	}
	if cfg.Storage.PruneSchedule == "" {
		cfg.Storage.PruneSchedule = "@every 10m"
	}

	if len(cfg.Agents.Files) == 0 {
		cfg.Agents.Files = []string{filepath.Join(OrchestraPath(), "agents", "*.yaml")}
	}
	for i, f := range cfg.Agents.Files {
		cfg.Agents.Files[i] = ResolvePath(f)
	}

	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Driver {
	case "file", "sqlite", "none":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port: %d out of range", cfg.Gateway.Port)
	}
	if cfg.Orchestrator.PersistRetries < 1 {
		return fmt.Errorf("orchestrator.persist_retries: must be at least 1")
	}
	return nil
}

// Normalize applies defaults to cfg in place and validates it. Callers use it
// after overriding fields outside of a config file.
func Normalize(cfg *Config) error {
	applyDefaults(cfg)
	return validate(cfg)
}
