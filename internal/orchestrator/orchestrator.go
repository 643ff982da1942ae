// Package orchestrator is the single entry point of the task queue: it owns
// the lock, applies the state machine, matches tasks to agents and runs the
// background assignment loop.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dohr-michael/orchestra/internal/agents"
	"github.com/dohr-michael/orchestra/internal/events"
	"github.com/dohr-michael/orchestra/internal/snapshot"
	"github.com/dohr-michael/orchestra/internal/tasks"
)

const (
	defaultPersistRetries = 3
	defaultPersistBackoff = 100 * time.Millisecond
	defaultPersistTimeout = 5 * time.Second
)

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Directory agents.Directory
	Sink      snapshot.Sink // nil: snapshots are discarded
	Bus       *events.Bus   // nil: events are discarded
	Now       func() time.Time

	PersistRetries int           // attempts per snapshot (0 = 3)
	PersistBackoff time.Duration // linear backoff unit between attempts (0 = 100ms)
	PersistTimeout time.Duration // per attempt (0 = 5s)
}

// Orchestrator serializes every queue operation behind one mutex.
type Orchestrator struct {
	mu    sync.Mutex
	queue *tasks.Queue
	dir   agents.Directory
	bus   *events.Bus
	now   func() time.Time
	seq   uint64 // snapshot sequence, guarded by mu

	persister *persister

	wakeCh chan struct{}
}

// New creates an Orchestrator with an empty queue.
func New(cfg Config) *Orchestrator {
	if cfg.Directory == nil {
		cfg.Directory = agents.NewMemoryDirectory()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	sink := cfg.Sink
	if sink == nil {
		sink = snapshot.NopStore{}
	}

	return &Orchestrator{
		queue: tasks.NewQueue(),
		dir:   cfg.Directory,
		bus:   cfg.Bus,
		now:   cfg.Now,
		persister: &persister{
			sink:    sink,
			bus:     cfg.Bus,
			retries: orDefault(cfg.PersistRetries, defaultPersistRetries),
			backoff: orDefault(cfg.PersistBackoff, defaultPersistBackoff),
			timeout: orDefault(cfg.PersistTimeout, defaultPersistTimeout),
		},
		wakeCh: make(chan struct{}, 1),
	}
}

// Directory returns the agent directory the orchestrator reads.
func (o *Orchestrator) Directory() agents.Directory {
	return o.dir
}

// Wakeups delivers a signal whenever an agent was released and pending work
// may now be assignable.
func (o *Orchestrator) Wakeups() <-chan struct{} {
	return o.wakeCh
}

func (o *Orchestrator) wake() {
	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
}

// Enqueue creates a task and assigns it right away when an agent is free.
// It never blocks on agent availability and always returns the new task ID.
func (o *Orchestrator) Enqueue(ctx context.Context, req EnqueueRequest) string {
	t, matched, snap, seq := o.enqueue(req)

	slog.Debug("task enqueued", "task_id", t.ID, "workspace", t.WorkspaceKey, "priority", t.Priority, "matched", matched)
	o.persister.persist(ctx, snap, seq)

	if !matched {
		o.triggerAssignment(withTrigger(ctx, triggerEnqueue))
	}
	return t.ID
}

func (o *Orchestrator) enqueue(req EnqueueRequest) (t tasks.Task, matched bool, snap snapshot.Snapshot, seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t = tasks.NewTask(req.Command, req.WorkspaceKey, req.Priority, o.now())
	o.queue.Add(t)
	o.publish(events.NewTaskEvent(events.SourceOrchestrator, events.TaskEnqueuedPayload{
		TaskID:       t.ID,
		WorkspaceKey: t.WorkspaceKey,
		Priority:     int(t.Priority),
	}, t.ID))

	if a, ok := agents.Match(o.availableAgentsLocked(), t.WorkspaceKey); ok {
		matched = o.assignLocked(t, a, "enqueue")
	}
	snap, seq = o.captureLocked()
	return t, matched, snap, seq
}

// TriggerAssignment runs one assignment pass over every pending task, in
// priority then age order, and returns how many tasks were assigned.
// With nothing assignable it is a no-op.
func (o *Orchestrator) TriggerAssignment(ctx context.Context) int {
	if triggerFrom(ctx) == "" {
		ctx = withTrigger(ctx, triggerAPI)
	}
	return o.triggerAssignment(ctx)
}

func (o *Orchestrator) triggerAssignment(ctx context.Context) int {
	n, snap, seq := o.assignPass(triggerFrom(ctx))
	if n == 0 {
		return 0
	}
	o.persister.persist(ctx, snap, seq)
	return n
}

func (o *Orchestrator) assignPass(trigger string) (int, snapshot.Snapshot, uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := o.assignPassLocked(trigger)
	if n == 0 {
		return 0, snapshot.Snapshot{}, 0
	}
	snap, seq := o.captureLocked()
	return n, snap, seq
}

// NextTaskForAgent hands a task to the calling agent. A task already bound
// to the agent and not yet fetched comes first; otherwise the best pending
// task the agent may serve is bound and returned. Once returned, the task is
// driven by the agent through UpdateStatus.
func (o *Orchestrator) NextTaskForAgent(ctx context.Context, agentID string) (tasks.Task, bool) {
	t, ok, snap, seq := o.nextForAgent(agentID)
	if !ok {
		return tasks.Task{}, false
	}

	slog.Info("task handed off", "task_id", t.ID, "agent_id", agentID)
	o.persister.persist(ctx, snap, seq)
	return t, true
}

func (o *Orchestrator) nextForAgent(agentID string) (tasks.Task, bool, snapshot.Snapshot, uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.nextForAgentLocked(agentID)
	if !ok {
		return tasks.Task{}, false, snapshot.Snapshot{}, 0
	}
	t = o.handOffLocked(t)
	snap, seq := o.captureLocked()
	return t, true, snap, seq
}

func (o *Orchestrator) nextForAgentLocked(agentID string) (tasks.Task, bool) {
	busy := false
	for _, t := range o.queue.FindByAgent(agentID) {
		if t.Status == tasks.TaskAssigned && !t.Dispatched() {
			return t, true
		}
		if tasks.IsActive(t.Status) {
			busy = true
		}
	}
	if busy {
		return tasks.Task{}, false
	}

	agent, ok := o.dir.GetAgent(agentID)
	if !ok || agent.Status == agents.AgentOffline {
		return tasks.Task{}, false
	}
	// An agent without a workspace serves any workspace.
	for _, t := range tasks.Ordered(o.queue.FindByStatus(tasks.TaskPending)) {
		if agent.WorkspaceKey != "" && t.WorkspaceKey != agent.WorkspaceKey {
			continue
		}
		if !o.assignLocked(t, agent, "pull") {
			continue
		}
		bound, _ := o.queue.Get(t.ID)
		return bound, true
	}
	return tasks.Task{}, false
}

// handOffLocked dequeues the task and re-adds it stamped as dispatched.
func (o *Orchestrator) handOffLocked(t tasks.Task) tasks.Task {
	t, _ = o.queue.Remove(t.ID)
	now := o.now()
	t.DispatchedAt = &now
	o.queue.Add(t)
	return t
}

// statusChange is what applyStatus did while holding the lock.
type statusChange struct {
	found    bool
	prev     tasks.Task
	next     tasks.Task
	err      error
	released bool
	snap     snapshot.Snapshot
	seq      uint64
}

// UpdateStatus applies a status change requested by an agent or a client.
// Unknown tasks and illegal transitions are reported in the Outcome; the
// task is left unchanged in both cases.
func (o *Orchestrator) UpdateStatus(ctx context.Context, taskID string, status tasks.TaskStatus, result string) Outcome {
	c := o.applyStatus(taskID, status, result)

	switch {
	case !c.found:
		slog.Warn("status update for unknown task", "task_id", taskID, "to", status)
		o.publish(events.NewTaskEvent(events.SourceOrchestrator, events.TaskRejectedPayload{
			TaskID: taskID,
			Reason: string(ReasonTaskNotFound),
			To:     string(status),
		}, taskID))
		return notFound()
	case c.err != nil:
		slog.Warn("status update rejected", "task_id", taskID, "from", c.prev.Status, "to", status, "error", c.err)
		o.publish(events.NewTaskEvent(events.SourceOrchestrator, events.TaskRejectedPayload{
			TaskID: taskID,
			Reason: string(ReasonInvalidTransition),
			From:   string(c.prev.Status),
			To:     string(status),
		}, taskID))
		return rejected(c.prev, c.err)
	}

	if c.prev.Status != c.next.Status {
		slog.Info("task status changed", "task_id", c.next.ID, "from", c.prev.Status, "to", c.next.Status)
	}
	o.persister.persist(ctx, c.snap, c.seq)
	if c.released {
		o.wake()
	}
	return accepted(c.next)
}

func (o *Orchestrator) applyStatus(taskID string, status tasks.TaskStatus, result string) (c statusChange) {
	o.mu.Lock()
	defer o.mu.Unlock()

	c.prev, c.found = o.queue.Get(taskID)
	if !c.found {
		return c
	}
	c.next, c.err = tasks.Transition(c.prev, status, c.prev.AgentID, result, o.now())
	if c.err != nil {
		return c
	}

	o.queue.Replace(c.next)
	if tasks.IsTerminal(c.next.Status) && !tasks.IsTerminal(c.prev.Status) {
		c.released = o.releaseLocked(c.next.AgentID)
	}
	o.publish(events.NewTaskEvent(events.SourceOrchestrator, events.TaskStatusPayload{
		TaskID:  c.next.ID,
		AgentID: c.next.AgentID,
		From:    string(c.prev.Status),
		To:      string(c.next.Status),
		Result:  c.next.Result,
	}, c.next.ID))
	c.snap, c.seq = o.captureLocked()
	return c
}

// Cancel marks a task cancelled. The reason is stored as the task result.
func (o *Orchestrator) Cancel(ctx context.Context, taskID, reason string) Outcome {
	return o.UpdateStatus(ctx, taskID, tasks.TaskCancelled, reason)
}

// Complete marks an in-progress task completed.
func (o *Orchestrator) Complete(ctx context.Context, taskID, result string) Outcome {
	return o.UpdateStatus(ctx, taskID, tasks.TaskCompleted, result)
}

// Fail marks an in-progress task failed.
func (o *Orchestrator) Fail(ctx context.Context, taskID, result string) Outcome {
	return o.UpdateStatus(ctx, taskID, tasks.TaskFailed, result)
}

// GetTask returns a copy of one task.
func (o *Orchestrator) GetTask(taskID string) (tasks.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.Get(taskID)
}

// GetState returns a copy of the agents and the queue.
func (o *Orchestrator) GetState() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	view := o.availableAgentsLocked()
	return State{
		Agents: view,
		Tasks:  o.queue.All(),
		Stats:  o.statsLocked(view),
	}
}

// Stats returns queue counters and agent availability.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statsLocked(o.availableAgentsLocked())
}

func (o *Orchestrator) statsLocked(view []agents.Agent) Stats {
	counts := o.queue.Counts()
	st := Stats{
		Total:      o.queue.Len(),
		Pending:    counts[tasks.TaskPending],
		Assigned:   counts[tasks.TaskAssigned],
		InProgress: counts[tasks.TaskInProgress],
		Completed:  counts[tasks.TaskCompleted],
		Failed:     counts[tasks.TaskFailed],
		Cancelled:  counts[tasks.TaskCancelled],
		Agents:     len(view),
	}
	for _, a := range view {
		if a.Idle() {
			st.IdleAgents++
		}
	}
	return st
}

// Snapshot captures the current state for persistence.
func (o *Orchestrator) Snapshot() snapshot.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return snapshot.New(o.dir.GetAllAgents(), o.queue.All(), o.now())
}

// Restore replaces the queue with the tasks of a persisted snapshot and
// re-marks agents that own active tasks as busy. It returns the number of
// tasks loaded. Nothing is persisted.
func (o *Orchestrator) Restore(s snapshot.Snapshot) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.queue.ReplaceAll(s.TaskQueue)
	if w, ok := o.dir.(agents.StatusWriter); ok {
		for _, t := range s.TaskQueue {
			if tasks.IsActive(t.Status) && t.AgentID != "" {
				w.SetStatus(t.AgentID, agents.AgentBusy)
			}
		}
	}
	return o.queue.Len()
}

// captureLocked copies the state while the lock is held so the persisted
// document is never torn.
func (o *Orchestrator) captureLocked() (snapshot.Snapshot, uint64) {
	o.seq++
	return snapshot.New(o.dir.GetAllAgents(), o.queue.All(), o.now()), o.seq
}

func (o *Orchestrator) publish(e events.Event) {
	o.bus.Publish(e)
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
