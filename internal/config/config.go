package config

import "time"

// Config is the root configuration for Orchestra.
type Config struct {
	Gateway      GatewayConfig      `json:"gateway"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Storage      StorageConfig      `json:"storage"`
	Agents       AgentsConfig       `json:"agents"`
	Events       EventsConfig       `json:"events"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// OrchestratorConfig tunes the assignment loop and snapshot persistence.
type OrchestratorConfig struct {
	Interval       Duration `json:"interval"`        // between background passes (default: 2s)
	Cooldown       Duration `json:"cooldown"`        // after a failed pass (default: 60s)
	PersistRetries int      `json:"persist_retries"` // default: 3
	PersistBackoff Duration `json:"persist_backoff"` // linear backoff unit (default: 100ms)
}

// StorageConfig selects where snapshots are written.
type StorageConfig struct {
	Driver        string `json:"driver"`         // "file" | "sqlite" | "none" (default: file)
	Path          string `json:"path"`           // default depends on driver, under $ORCHESTRA_PATH
	KeepSnapshots int    `json:"keep_snapshots"` // sqlite only (default: 20)
	PruneSchedule string `json:"prune_schedule"` // sqlite only, cron syntax (default: @every 10m)
}

// AgentsConfig points at the YAML files describing known agents.
type AgentsConfig struct {
	Files []string `json:"files"` // glob patterns (default: [$ORCHESTRA_PATH/agents/*.yaml])
	Watch *bool    `json:"watch"` // reload on change (default: true)
}

// WatchEnabled reports whether agent files should be watched.
func (a AgentsConfig) WatchEnabled() bool {
	return a.Watch == nil || *a.Watch
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
