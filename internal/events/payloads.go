package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// TASK EVENTS
// =============================================================================

type TaskEnqueuedPayload struct {
	TaskID       string `json:"task_id"`
	WorkspaceKey string `json:"workspace_key,omitempty"`
	Priority     int    `json:"priority"`
}

func (TaskEnqueuedPayload) EventType() EventType { return EventTaskEnqueued }

type TaskAssignedPayload struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	// Locality is false when the task runs outside its preferred workspace.
	Locality bool   `json:"locality"`
	Via      string `json:"via"` // "enqueue" | "pass" | "pull"
}

func (TaskAssignedPayload) EventType() EventType { return EventTaskAssigned }

type TaskStatusPayload struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id,omitempty"`
	From    string `json:"from"`
	To      string `json:"to"`
	Result  string `json:"result,omitempty"`
}

func (TaskStatusPayload) EventType() EventType { return EventTaskStatus }

// TaskRejectedPayload reports an update the orchestrator refused.
type TaskRejectedPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"` // "task_not_found" | "invalid_transition"
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
}

func (TaskRejectedPayload) EventType() EventType { return EventTaskRejected }

// =============================================================================
// ASSIGNMENT EVENTS
// =============================================================================

type AssignmentPassPayload struct {
	Assigned int           `json:"assigned"`
	Pending  int           `json:"pending"`
	Duration time.Duration `json:"duration"`
	Trigger  string        `json:"trigger"` // "enqueue" | "loop" | "api"
}

func (AssignmentPassPayload) EventType() EventType { return EventAssignmentPass }

type LoopFailurePayload struct {
	Error    string        `json:"error"`
	Cooldown time.Duration `json:"cooldown"`
}

func (LoopFailurePayload) EventType() EventType { return EventLoopFailure }

// =============================================================================
// PERSISTENCE EVENTS
// =============================================================================

type SnapshotFailedPayload struct {
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

func (SnapshotFailedPayload) EventType() EventType { return EventSnapshotFailed }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func NewTaskEvent(source EventSource, payload EventPayload, taskID string) Event {
	e := NewTypedEvent(source, payload)
	e.TaskID = taskID
	return e
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
