// Package tasks holds the task model, the in-memory task queue and the
// lifecycle state machine that governs status changes.
package tasks

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []TaskStatus{
	TaskPending, TaskAssigned, TaskInProgress, TaskCompleted, TaskFailed, TaskCancelled,
}

// ParseStatus converts a transport-level string into a TaskStatus.
// Both snake_case and PascalCase spellings are accepted ("in_progress", "InProgress").
func ParseStatus(s string) (TaskStatus, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for _, st := range AllStatuses {
		if strings.ReplaceAll(string(st), "_", "") == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// TaskPriority orders competing tasks. Higher values are served first.
type TaskPriority int

const (
	PriorityLow      TaskPriority = 0
	PriorityNormal   TaskPriority = 1
	PriorityHigh     TaskPriority = 2
	PriorityCritical TaskPriority = 3
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return strconv.Itoa(int(p))
	}
}

// ParsePriority accepts a named level ("low", "normal", "high", "critical")
// or any integer. An empty string yields PriorityNormal.
func ParsePriority(s string) (TaskPriority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid priority %q", s)
	}
	return TaskPriority(n), nil
}

// Task is a unit of work submitted by a producer. Tasks are values: every
// mutation produces an updated copy that replaces the stored record.
type Task struct {
	ID           string       `json:"id"`
	AgentID      string       `json:"agentId"`
	Command      string       `json:"command"`
	WorkspaceKey string       `json:"workspaceKey"`
	Priority     TaskPriority `json:"priority"`
	Status       TaskStatus   `json:"status"`
	CreatedAt    time.Time    `json:"createdAt"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`
	Result       string       `json:"result,omitempty"`

	// DispatchedAt is set once the bound agent has fetched the task.
	DispatchedAt *time.Time `json:"dispatchedAt,omitempty"`
}

// NewTask builds a pending task with a fresh identifier.
func NewTask(command, workspaceKey string, priority TaskPriority, now time.Time) Task {
	return Task{
		ID:           GenerateTaskID(),
		Command:      command,
		WorkspaceKey: workspaceKey,
		Priority:     priority,
		Status:       TaskPending,
		CreatedAt:    now,
	}
}

// Dispatched reports whether the owning agent already took the task.
func (t Task) Dispatched() bool {
	return t.DispatchedAt != nil
}

// GenerateTaskID creates a task identifier: "task_" and 8 hex characters.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + u[:8]
}
