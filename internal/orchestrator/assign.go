package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/dohr-michael/orchestra/internal/agents"
	"github.com/dohr-michael/orchestra/internal/events"
	"github.com/dohr-michael/orchestra/internal/tasks"
)

const (
	triggerAPI     = "api"
	triggerEnqueue = "enqueue"
	triggerLoop    = "loop"
)

type triggerKey struct{}

func withTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFrom(ctx context.Context) string {
	s, _ := ctx.Value(triggerKey{}).(string)
	return s
}

// availableAgentsLocked returns the directory's agents with every agent that
// owns an assigned or in-progress task reported busy, whatever the directory
// says. This keeps one active task per agent even when the directory is
// read-only.
func (o *Orchestrator) availableAgentsLocked() []agents.Agent {
	all := o.dir.GetAllAgents()
	owners := make(map[string]bool)
	for _, t := range o.queue.All() {
		if tasks.IsActive(t.Status) && t.AgentID != "" {
			owners[t.AgentID] = true
		}
	}
	for i := range all {
		if owners[all[i].ID] && all[i].Status == agents.AgentIdle {
			all[i].Status = agents.AgentBusy
		}
	}
	return all
}

// assignLocked binds a pending task to an agent. It reports false if the
// transition was refused, which only happens for a task that is no longer
// pending.
func (o *Orchestrator) assignLocked(t tasks.Task, a agents.Agent, via string) bool {
	next, err := tasks.Transition(t, tasks.TaskAssigned, a.ID, "", o.now())
	if err != nil {
		slog.Warn("assignment refused", "task_id", t.ID, "agent_id", a.ID, "error", err)
		return false
	}
	o.queue.Replace(next)
	if w, ok := o.dir.(agents.StatusWriter); ok {
		w.SetStatus(a.ID, agents.AgentBusy)
	}

	o.publish(events.NewTaskEvent(events.SourceOrchestrator, events.TaskAssignedPayload{
		TaskID:   next.ID,
		AgentID:  a.ID,
		Locality: a.ServesWorkspace(next.WorkspaceKey),
		Via:      via,
	}, next.ID))
	slog.Info("task assigned", "task_id", next.ID, "agent_id", a.ID, "workspace", next.WorkspaceKey, "via", via)
	return true
}

// releaseLocked marks an agent idle again once it owns no active task.
// It reports whether the agent became available.
func (o *Orchestrator) releaseLocked(agentID string) bool {
	if agentID == "" {
		return false
	}
	for _, t := range o.queue.FindByAgent(agentID) {
		if tasks.IsActive(t.Status) {
			return false
		}
	}
	if w, ok := o.dir.(agents.StatusWriter); ok {
		w.SetStatus(agentID, agents.AgentIdle)
	}
	return true
}

// assignPassLocked walks pending tasks in service order and binds each one
// to the best idle agent. It stops at the first task that finds nobody,
// since the fallback tier accepts any idle agent and none is left.
func (o *Orchestrator) assignPassLocked(trigger string) int {
	start := time.Now()
	pending := tasks.Ordered(o.queue.FindByStatus(tasks.TaskPending))
	if len(pending) == 0 {
		return 0
	}

	view := o.availableAgentsLocked()
	assigned := 0
	for _, t := range pending {
		a, ok := agents.Match(view, t.WorkspaceKey)
		if !ok {
			break
		}
		if !o.assignLocked(t, a, "pass") {
			continue
		}
		assigned++
		for i := range view {
			if view[i].ID == a.ID {
				view[i].Status = agents.AgentBusy
			}
		}
	}

	if assigned > 0 {
		o.publish(events.NewTypedEvent(events.SourceOrchestrator, events.AssignmentPassPayload{
			Assigned: assigned,
			Pending:  len(pending) - assigned,
			Duration: time.Since(start),
			Trigger:  trigger,
		}))
		slog.Debug("assignment pass", "trigger", trigger, "assigned", assigned, "pending", len(pending)-assigned)
	}
	return assigned
}
