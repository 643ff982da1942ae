package agents

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// agentsFile is the on-disk layout of an agents YAML document.
type agentsFile struct {
	Agents []Agent `yaml:"agents"`
}

// FileDirectory is a Directory fed by YAML files matched by glob patterns
// (doublestar syntax, e.g. "~/.orchestra/agents/**/*.yaml").
type FileDirectory struct {
	*MemoryDirectory
	patterns []string
}

// NewFileDirectory creates a FileDirectory and performs the initial load.
func NewFileDirectory(patterns []string) (*FileDirectory, error) {
	d := &FileDirectory{
		MemoryDirectory: NewMemoryDirectory(),
		patterns:        patterns,
	}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads every matching file and swaps the agent set. Agents the
// orchestrator marked busy stay busy if the file still lists them as idle.
func (d *FileDirectory) Reload() error {
	files, err := d.files()
	if err != nil {
		return err
	}

	seen := make(map[string]string)
	var all []Agent
	for _, path := range files {
		list, err := readAgentsFile(path)
		if err != nil {
			return err
		}
		for _, a := range list {
			if a.ID == "" {
				slog.Warn("agent without id ignored", "file", path)
				continue
			}
			if prev, dup := seen[a.ID]; dup {
				slog.Warn("duplicate agent id, last definition wins", "agent_id", a.ID, "first", prev, "file", path)
			}
			seen[a.ID] = path
			all = append(all, a)
		}
	}

	d.replace(all)
	slog.Debug("agent directory loaded", "files", len(files), "agents", len(seen))
	return nil
}

func (d *FileDirectory) files() ([]string, error) {
	var out []string
	for _, pattern := range d.patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob agents %q: %w", pattern, err)
		}
		out = append(out, matches...)
	}
	return out, nil
}

func readAgentsFile(path string) ([]Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}

	var f agentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agents file %s: %w", path, err)
	}
	for i, a := range f.Agents {
		st, err := ParseStatus(string(a.Status))
		if err != nil {
			return nil, fmt.Errorf("agents file %s: agent %q: %w", path, a.ID, err)
		}
		f.Agents[i].Status = st
	}
	return f.Agents, nil
}

// Watch reloads the directory whenever a file under the pattern roots
// changes. It returns once the watcher is installed; watching stops when
// ctx is cancelled.
func (d *FileDirectory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	for _, dir := range d.roots() {
		if err := watcher.Add(dir); err != nil {
			slog.Warn("cannot watch agents dir", "dir", dir, "error", err)
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := d.Reload(); err != nil {
					slog.Error("reload agents", "error", err, "file", event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("agents watcher", "error", err)
			}
		}
	}()
	return nil
}

// roots returns the static directory prefix of every pattern.
func (d *FileDirectory) roots() []string {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range d.patterns {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
		base = filepath.FromSlash(base)
		if !seen[base] {
			seen[base] = true
			out = append(out, base)
		}
	}
	return out
}
