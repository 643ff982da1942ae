package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dohr-michael/orchestra/internal/events"
	"github.com/dohr-michael/orchestra/internal/snapshot"
)

// persister writes snapshots outside the orchestrator lock. Writes are
// serialized, and a snapshot older than the last one written is dropped so
// a slow retry can never overwrite newer state.
type persister struct {
	sink    snapshot.Sink
	bus     *events.Bus
	retries int
	backoff time.Duration
	timeout time.Duration

	mu      sync.Mutex
	written uint64
}

// persist saves s with bounded retries. Failures are logged and published,
// never returned: the in-memory state stays authoritative.
func (p *persister) persist(ctx context.Context, s snapshot.Snapshot, seq uint64) {
	// A caller hanging up must not abort the write of state it already changed.
	ctx = context.WithoutCancel(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if seq <= p.written {
		return
	}

	var err error
	for attempt := 1; attempt <= p.retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err = p.sink.Save(attemptCtx, s)
		cancel()
		if err == nil {
			p.written = seq
			return
		}

		slog.Warn("snapshot save failed", "attempt", attempt, "of", p.retries, "error", err)
		if attempt < p.retries {
			time.Sleep(time.Duration(attempt) * p.backoff)
		}
	}

	slog.Error("snapshot not persisted", "attempts", p.retries, "tasks", len(s.TaskQueue), "error", err)
	p.bus.Publish(events.NewTypedEvent(events.SourceOrchestrator, events.SnapshotFailedPayload{
		Attempts: p.retries,
		Error:    err.Error(),
	}))
}
