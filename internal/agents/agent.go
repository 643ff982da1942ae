// Package agents describes execution agents, the directory that tracks them
// and the matcher that pairs work with an idle agent.
package agents

import (
	"fmt"
	"strings"
	"time"
)

// AgentStatus represents the availability of an agent.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

// ParseStatus converts a string into an AgentStatus.
func ParseStatus(s string) (AgentStatus, error) {
	switch AgentStatus(strings.ToLower(strings.TrimSpace(s))) {
	case AgentIdle, "":
		return AgentIdle, nil
	case AgentBusy:
		return AgentBusy, nil
	case AgentOffline:
		return AgentOffline, nil
	}
	return "", fmt.Errorf("unknown agent status %q", s)
}

// Agent is an execution unit able to run one task at a time.
type Agent struct {
	ID           string      `json:"id" yaml:"id"`
	WorkspaceKey string      `json:"workspaceKey,omitempty" yaml:"workspace_key,omitempty"`
	Status       AgentStatus `json:"status" yaml:"status,omitempty"`
	LastSeenAt   time.Time   `json:"lastSeenAt" yaml:"last_seen_at,omitempty"`
}

// Idle reports whether the agent can accept work.
func (a Agent) Idle() bool {
	return a.Status == AgentIdle
}

// ServesWorkspace reports whether the agent is bound to key.
// An agent without a workspace is bound to none in particular.
func (a Agent) ServesWorkspace(key string) bool {
	return a.WorkspaceKey == key
}
