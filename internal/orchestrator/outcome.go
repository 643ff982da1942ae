package orchestrator

import (
	"errors"

	"github.com/dohr-michael/orchestra/internal/agents"
	"github.com/dohr-michael/orchestra/internal/tasks"
)

// ErrTaskNotFound reports an update addressed to an unknown task.
var ErrTaskNotFound = errors.New("task not found")

// Reason classifies the result of a status update.
type Reason string

const (
	ReasonOK                Reason = "ok"
	ReasonTaskNotFound      Reason = "task_not_found"
	ReasonInvalidTransition Reason = "invalid_transition"
)

// Outcome is returned by UpdateStatus instead of an error: rejections are
// an expected result, not a failure of the call.
type Outcome struct {
	Accepted bool       `json:"accepted"`
	Reason   Reason     `json:"reason"`
	Detail   string     `json:"detail,omitempty"`
	Task     tasks.Task `json:"task"`

	err error
}

// Err returns the rejection as an error, or nil when accepted. The error
// wraps ErrTaskNotFound or tasks.ErrInvalidTransition.
func (o Outcome) Err() error {
	return o.err
}

func accepted(t tasks.Task) Outcome {
	return Outcome{Accepted: true, Reason: ReasonOK, Task: t}
}

func notFound() Outcome {
	return Outcome{Reason: ReasonTaskNotFound, Detail: ErrTaskNotFound.Error(), err: ErrTaskNotFound}
}

func rejected(t tasks.Task, err error) Outcome {
	return Outcome{Reason: ReasonInvalidTransition, Detail: err.Error(), Task: t, err: err}
}

// EnqueueRequest describes a new unit of work.
type EnqueueRequest struct {
	Command      string             `json:"command"`
	WorkspaceKey string             `json:"workspace_key"`
	Priority     tasks.TaskPriority `json:"priority"`
}

// Stats summarizes the queue and agent availability.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Assigned   int `json:"assigned"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Agents     int `json:"agents"`
	IdleAgents int `json:"idle_agents"`
}

// State is a read-only copy of the orchestrator's view of the world.
// Agents reflect effective availability: an agent owning an active task is
// reported busy.
type State struct {
	Agents []agents.Agent `json:"agents"`
	Tasks  []tasks.Task   `json:"tasks"`
	Stats  Stats          `json:"stats"`
}
