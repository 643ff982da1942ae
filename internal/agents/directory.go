package agents

import (
	"sort"
	"sync"
	"time"
)

// Directory exposes the agents known to the system. The orchestrator only
// reads it; discovery belongs to whoever fills it.
type Directory interface {
	GetAllAgents() []Agent
	GetAgent(id string) (Agent, bool)
}

// StatusWriter is implemented by directories that accept availability flips
// from the orchestrator (busy on assignment, idle on release).
type StatusWriter interface {
	SetStatus(id string, status AgentStatus) bool
}

// MemoryDirectory is a concurrency-safe in-process Directory.
type MemoryDirectory struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewMemoryDirectory creates a directory seeded with the given agents.
func NewMemoryDirectory(seed ...Agent) *MemoryDirectory {
	d := &MemoryDirectory{agents: make(map[string]Agent, len(seed))}
	for _, a := range seed {
		d.agents[a.ID] = normalize(a)
	}
	return d
}

// GetAllAgents returns every agent sorted by ID.
func (d *MemoryDirectory) GetAllAgents() []Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Agent, 0, len(d.agents))
	for _, a := range d.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetAgent returns the agent with the given ID.
func (d *MemoryDirectory) GetAgent(id string) (Agent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	return a, ok
}

// Upsert registers or replaces an agent.
func (d *MemoryDirectory) Upsert(a Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[a.ID] = normalize(a)
}

// Remove forgets an agent.
func (d *MemoryDirectory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.agents, id)
}

// SetStatus flips an agent's availability. Returns false for unknown agents.
func (d *MemoryDirectory) SetStatus(id string, status AgentStatus) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.agents[id]
	if !ok {
		return false
	}
	a.Status = status
	d.agents[id] = a
	return true
}

// Heartbeat records that the agent was seen at the given time.
func (d *MemoryDirectory) Heartbeat(id string, at time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.agents[id]
	if !ok {
		return false
	}
	a.LastSeenAt = at
	d.agents[id] = a
	return true
}

// replace swaps the whole set, keeping the runtime status of agents that
// survive the swap.
func (d *MemoryDirectory) replace(next []Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	agents := make(map[string]Agent, len(next))
	for _, a := range next {
		a = normalize(a)
		if prev, ok := d.agents[a.ID]; ok && prev.Status == AgentBusy && a.Status == AgentIdle {
			a.Status = prev.Status
		}
		if prev, ok := d.agents[a.ID]; ok && a.LastSeenAt.IsZero() {
			a.LastSeenAt = prev.LastSeenAt
		}
		agents[a.ID] = a
	}
	d.agents = agents
}

func normalize(a Agent) Agent {
	if a.Status == "" {
		a.Status = AgentIdle
	}
	return a
}

var (
	_ Directory    = (*MemoryDirectory)(nil)
	_ StatusWriter = (*MemoryDirectory)(nil)
)
