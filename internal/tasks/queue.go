package tasks

import (
	"slices"
	"sort"
)

// Queue is the ordered collection of every task the orchestrator knows about,
// terminal ones included. It holds no lock: callers must serialize access.
type Queue struct {
	items []Task
}

// NewQueue creates a queue seeded with the given tasks, in order.
func NewQueue(seed ...Task) *Queue {
	return &Queue{items: slices.Clone(seed)}
}

// Add appends a task. Uniqueness of IDs is the caller's responsibility.
func (q *Queue) Add(t Task) {
	q.items = append(q.items, t)
}

// Get returns the task with the given ID.
func (q *Queue) Get(id string) (Task, bool) {
	if i := q.index(id); i >= 0 {
		return q.items[i], true
	}
	return Task{}, false
}

// FindByStatus returns the tasks in the given status, in queue order.
func (q *Queue) FindByStatus(status TaskStatus) []Task {
	var out []Task
	for _, t := range q.items {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// FindByAgent returns the tasks bound to agentID, in queue order.
func (q *Queue) FindByAgent(agentID string) []Task {
	if agentID == "" {
		return nil
	}
	var out []Task
	for _, t := range q.items {
		if t.AgentID == agentID {
			out = append(out, t)
		}
	}
	return out
}

// Remove takes a task out of the queue and returns it. The hand-off path
// re-adds the task with updated fields.
func (q *Queue) Remove(id string) (Task, bool) {
	i := q.index(id)
	if i < 0 {
		return Task{}, false
	}
	t := q.items[i]
	q.items = slices.Delete(q.items, i, i+1)
	return t, true
}

// Replace rewrites the record with the same ID in place.
func (q *Queue) Replace(t Task) bool {
	i := q.index(t.ID)
	if i < 0 {
		return false
	}
	q.items[i] = t
	return true
}

// ReplaceAll swaps the whole content of the queue.
func (q *Queue) ReplaceAll(ts []Task) {
	q.items = slices.Clone(ts)
}

// All returns a copy of every task in queue order.
func (q *Queue) All() []Task {
	return slices.Clone(q.items)
}

// Len returns the number of tasks held.
func (q *Queue) Len() int {
	return len(q.items)
}

// Counts returns the number of tasks per status.
func (q *Queue) Counts() map[TaskStatus]int {
	counts := make(map[TaskStatus]int, len(AllStatuses))
	for _, t := range q.items {
		counts[t.Status]++
	}
	return counts
}

func (q *Queue) index(id string) int {
	return slices.IndexFunc(q.items, func(t Task) bool { return t.ID == id })
}

// Ordered returns a copy of ts sorted by service order: priority descending,
// then creation time ascending, then ID for a stable result.
func Ordered(ts []Task) []Task {
	out := slices.Clone(ts)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
