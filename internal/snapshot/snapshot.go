// Package snapshot persists point-in-time copies of the orchestrator state.
// Persistence is best effort: the in-memory queue stays authoritative.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/dohr-michael/orchestra/internal/agents"
	"github.com/dohr-michael/orchestra/internal/tasks"
)

// Snapshot is the full serialized state: agents keyed by ID, the ordered
// task queue and the capture time.
type Snapshot struct {
	Agents      map[string]agents.Agent `json:"agents"`
	TaskQueue   []tasks.Task            `json:"taskQueue"`
	GeneratedAt time.Time               `json:"generatedAt"`
}

// New builds a snapshot from agent and task lists.
func New(agentList []agents.Agent, queue []tasks.Task, at time.Time) Snapshot {
	byID := make(map[string]agents.Agent, len(agentList))
	for _, a := range agentList {
		byID[a.ID] = a
	}
	if queue == nil {
		queue = []tasks.Task{}
	}
	return Snapshot{Agents: byID, TaskQueue: queue, GeneratedAt: at}
}

// Sink receives snapshots after every mutation.
type Sink interface {
	Save(ctx context.Context, s Snapshot) error
}

// Loader reads back the most recent snapshot. ok is false when nothing was
// persisted yet.
type Loader interface {
	Load(ctx context.Context) (s Snapshot, ok bool, err error)
}

// Store is a Sink that can also be read back and closed.
type Store interface {
	Sink
	Loader
	Close() error
}

// Driver names accepted by Open.
const (
	DriverNone   = "none"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Options selects and configures a Store.
type Options struct {
	Driver string
	Path   string
}

// Open creates the Store for the configured driver.
func Open(opts Options) (Store, error) {
	switch opts.Driver {
	case DriverNone, "":
		return NopStore{}, nil
	case DriverFile:
		if opts.Path == "" {
			return nil, fmt.Errorf("file snapshot store: path required")
		}
		return NewFileStore(opts.Path), nil
	case DriverSQLite:
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite snapshot store: path required")
		}
		return NewSQLiteStore(opts.Path)
	default:
		return nil, fmt.Errorf("unknown snapshot driver %q", opts.Driver)
	}
}

// NopStore discards snapshots.
type NopStore struct{}

func (NopStore) Save(context.Context, Snapshot) error { return nil }

func (NopStore) Load(context.Context) (Snapshot, bool, error) { return Snapshot{}, false, nil }

func (NopStore) Close() error { return nil }
