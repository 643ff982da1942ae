package tasks

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is wrapped by every rejected status change.
var ErrInvalidTransition = errors.New("invalid task transition")

// TransitionError describes a rejected status change.
type TransitionError struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("task %s: %s -> %s", e.TaskID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// allowed maps each non-terminal status to its legal targets.
// Same-status updates are handled separately.
var allowed = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskAssigned, TaskCancelled},
	TaskAssigned:   {TaskInProgress, TaskCancelled},
	TaskInProgress: {TaskCompleted, TaskFailed, TaskCancelled},
}

// IsTerminal reports whether no transition can leave s.
func IsTerminal(s TaskStatus) bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether a task in s occupies its agent.
func IsActive(s TaskStatus) bool {
	return s == TaskAssigned || s == TaskInProgress
}

// CanTransition reports whether from -> to is a legal status change.
// A same-status update is always legal.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition applies a status change to a copy of t and stamps timestamps.
// agentID is only consulted for pending -> assigned. A non-empty result
// overwrites the stored one. On rejection t is returned unchanged together
// with a *TransitionError.
func Transition(t Task, to TaskStatus, agentID, result string, now time.Time) (Task, error) {
	if !CanTransition(t.Status, to) {
		return t, &TransitionError{TaskID: t.ID, From: t.Status, To: to}
	}

	next := t
	if result != "" {
		next.Result = result
	}
	if t.Status == to {
		return next, nil
	}

	switch to {
	case TaskAssigned:
		if agentID == "" {
			return t, &TransitionError{TaskID: t.ID, From: t.Status, To: to, Reason: "agent id required"}
		}
		next.AgentID = agentID
		next.StartedAt = stamp(now)
	case TaskInProgress:
		// First write wins.
		if next.StartedAt == nil {
			next.StartedAt = stamp(now)
		}
	case TaskCompleted, TaskFailed, TaskCancelled:
		next.CompletedAt = stamp(now)
	}
	next.Status = to
	return next, nil
}

func stamp(now time.Time) *time.Time {
	return &now
}
