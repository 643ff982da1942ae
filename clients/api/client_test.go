package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/dohr-michael/orchestra/internal/agents"
	"github.com/dohr-michael/orchestra/internal/events"
	"github.com/dohr-michael/orchestra/internal/gateway"
	"github.com/dohr-michael/orchestra/internal/orchestrator"
	"github.com/dohr-michael/orchestra/internal/tasks"
)

func newClient(t *testing.T, seed ...agents.Agent) *Client {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	orch := orchestrator.New(orchestrator.Config{Directory: agents.NewMemoryDirectory(seed...), Bus: bus})
	srv := gateway.NewServer(orch, bus, "127.0.0.1", 0)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL)
}

func TestClientTaskFlow(t *testing.T) {
	c := newClient(t, agents.Agent{ID: "a1", WorkspaceKey: "repoA", Status: agents.AgentIdle})
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	created, err := c.Enqueue(ctx, gateway.EnqueueBody{Command: "go test ./...", WorkspaceKey: "repoA"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if created.Status != tasks.TaskAssigned || created.Agent != "a1" {
		t.Fatalf("created: %+v", created)
	}

	next, ok, err := c.Next(ctx, "a1")
	if err != nil || !ok || next.ID != created.ID {
		t.Fatalf("Next: task=%+v ok=%v err=%v", next, ok, err)
	}
	if _, ok, err := c.Next(ctx, "a1"); err != nil || ok {
		t.Fatalf("second Next: ok=%v err=%v", ok, err)
	}

	out, err := c.UpdateStatus(ctx, created.ID, "in_progress", "")
	if err != nil || !out.Accepted {
		t.Fatalf("UpdateStatus: %+v err=%v", out, err)
	}

	out, err = c.UpdateStatus(ctx, created.ID, "pending", "")
	if err != nil {
		t.Fatalf("rejected update returned error: %v", err)
	}
	if out.Accepted || out.Reason != orchestrator.ReasonInvalidTransition {
		t.Fatalf("rejected update outcome: %+v", out)
	}

	out, err = c.Cancel(ctx, created.ID, "superseded")
	if err != nil || !out.Accepted || out.Task.Result != "superseded" {
		t.Fatalf("Cancel: %+v err=%v", out, err)
	}

	list, err := c.ListTasks(ctx, "cancelled")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListTasks: %v err=%v", list, err)
	}
}

func TestClientErrors(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	_, err := c.GetTask(ctx, "task_missing")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("GetTask: got %v", err)
	}

	out, err := c.Cancel(ctx, "task_missing", "")
	if err != nil || out.Reason != orchestrator.ReasonTaskNotFound {
		t.Fatalf("Cancel unknown: %+v err=%v", out, err)
	}

	if _, err := c.Enqueue(ctx, gateway.EnqueueBody{}); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("Enqueue without command: got %v", err)
	}
}

func TestClientAssignAndState(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	if _, err := c.Enqueue(ctx, gateway.EnqueueBody{Command: "x", WorkspaceKey: "repoA", Priority: "critical"}); err != nil {
		t.Fatal(err)
	}
	n, err := c.Assign(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Assign without agents: n=%d err=%v", n, err)
	}

	st, err := c.State(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Stats.Pending != 1 || len(st.Tasks) != 1 || st.Tasks[0].Priority != tasks.PriorityCritical {
		t.Errorf("state: %+v", st)
	}

	list, err := c.Agents(ctx)
	if err != nil || len(list) != 0 {
		t.Errorf("Agents: %v err=%v", list, err)
	}
}

func TestClientHeartbeat(t *testing.T) {
	c := newClient(t, agents.Agent{ID: "a1", Status: agents.AgentIdle})
	ctx := context.Background()

	if err := c.Heartbeat(ctx, "a1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	list, err := c.Agents(ctx)
	if err != nil || len(list) != 1 || list[0].LastSeenAt.IsZero() {
		t.Fatalf("Agents after heartbeat: %+v err=%v", list, err)
	}

	var apiErr *Error
	if err := c.Heartbeat(ctx, "ghost"); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("unknown agent: got %v", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(url)
	c.http.RetryMax = 1
	if err := c.Health(context.Background()); err == nil {
		t.Fatal("expected error for closed gateway")
	}
}

func TestClientRetriesOnlyFailedDials(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
	}))
	defer ts.Close()
	defer close(release)

	c := New(ts.URL)
	c.http.HTTPClient.Timeout = 50 * time.Millisecond
	c.http.RetryWaitMin = time.Millisecond
	c.http.RetryWaitMax = time.Millisecond

	if _, err := c.Enqueue(context.Background(), gateway.EnqueueBody{Command: "x"}); err == nil {
		t.Fatal("expected timeout error")
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server saw %d requests, want 1", n)
	}
}

func TestIsDialError(t *testing.T) {
	dial := &url.Error{Op: "Post", URL: "http://x", Err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}}
	read := &url.Error{Op: "Post", URL: "http://x", Err: &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"refused dial", dial, true},
		{"reset after connect", read, false},
		{"timeout", context.DeadlineExceeded, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDialError(tt.err); got != tt.want {
				t.Errorf("isDialError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
