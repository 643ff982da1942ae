package tasks

import (
	"testing"
	"time"
)

func TestQueueAddFind(t *testing.T) {
	q := NewQueue()

	a := NewTask("a", "repoA", PriorityNormal, t0)
	b := NewTask("b", "repoB", PriorityHigh, t0.Add(time.Second))
	b.Status = TaskAssigned
	b.AgentID = "agent-1"
	q.Add(a)
	q.Add(b)

	if q.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", q.Len())
	}

	pending := q.FindByStatus(TaskPending)
	if len(pending) != 1 || pending[0].ID != a.ID {
		t.Errorf("FindByStatus(pending): got %+v", pending)
	}

	owned := q.FindByAgent("agent-1")
	if len(owned) != 1 || owned[0].ID != b.ID {
		t.Errorf("FindByAgent: got %+v", owned)
	}
	if got := q.FindByAgent(""); got != nil {
		t.Errorf("FindByAgent(\"\"): got %+v, want nil", got)
	}

	got, ok := q.Get(b.ID)
	if !ok || got.Command != "b" {
		t.Errorf("Get: got %+v, %v", got, ok)
	}
	if _, ok := q.Get("missing"); ok {
		t.Error("Get(missing) should fail")
	}
}

func TestQueueRemoveAndReAdd(t *testing.T) {
	a := NewTask("a", "", PriorityNormal, t0)
	b := NewTask("b", "", PriorityNormal, t0)
	c := NewTask("c", "", PriorityNormal, t0)
	q := NewQueue(a, b, c)

	removed, ok := q.Remove(b.ID)
	if !ok || removed.ID != b.ID {
		t.Fatalf("Remove: got %+v, %v", removed, ok)
	}
	if q.Len() != 2 {
		t.Fatalf("Len after remove: got %d", q.Len())
	}
	if _, ok := q.Remove(b.ID); ok {
		t.Error("second Remove should fail")
	}

	removed.Result = "handed off"
	q.Add(removed)

	all := q.All()
	if all[2].ID != b.ID || all[2].Result != "handed off" {
		t.Errorf("re-added task: got %+v", all[2])
	}
}

func TestQueueReplacePreservesOrder(t *testing.T) {
	a := NewTask("a", "", PriorityNormal, t0)
	b := NewTask("b", "", PriorityNormal, t0)
	c := NewTask("c", "", PriorityNormal, t0)
	q := NewQueue(a, b, c)

	b.Result = "x"
	if !q.Replace(b) {
		t.Fatal("Replace returned false")
	}
	all := q.All()
	if all[0].ID != a.ID || all[1].ID != b.ID || all[2].ID != c.ID {
		t.Errorf("order changed: %v %v %v", all[0].ID, all[1].ID, all[2].ID)
	}
	if all[1].Result != "x" {
		t.Errorf("Result: got %q", all[1].Result)
	}
	if q.Replace(Task{ID: "missing"}) {
		t.Error("Replace(missing) should return false")
	}

	q.ReplaceAll([]Task{c})
	if q.Len() != 1 {
		t.Errorf("ReplaceAll: Len got %d", q.Len())
	}
}

func TestQueueAllReturnsCopy(t *testing.T) {
	q := NewQueue(NewTask("a", "", PriorityNormal, t0))
	all := q.All()
	all[0].Command = "mutated"

	got := q.All()
	if got[0].Command != "a" {
		t.Error("All must return a copy")
	}
}

func TestQueueCounts(t *testing.T) {
	a := NewTask("a", "", PriorityNormal, t0)
	b := NewTask("b", "", PriorityNormal, t0)
	b.Status = TaskCompleted
	q := NewQueue(a, b, NewTask("c", "", PriorityNormal, t0))

	counts := q.Counts()
	if counts[TaskPending] != 2 || counts[TaskCompleted] != 1 {
		t.Errorf("Counts: got %v", counts)
	}
}

func TestOrdered(t *testing.T) {
	oldNormal := NewTask("old-normal", "", PriorityNormal, t0)
	newNormal := NewTask("new-normal", "", PriorityNormal, t0.Add(time.Minute))
	high := NewTask("high", "", PriorityHigh, t0.Add(time.Hour))
	low := NewTask("low", "", PriorityLow, t0.Add(-time.Hour))

	got := Ordered([]Task{newNormal, low, oldNormal, high})
	want := []string{"high", "old-normal", "new-normal", "low"}
	for i, w := range want {
		if got[i].Command != w {
			t.Errorf("position %d: got %s, want %s", i, got[i].Command, w)
		}
	}
}
