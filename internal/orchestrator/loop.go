package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dohr-michael/orchestra/internal/events"
)

// LoopState is the run state of the background assignment loop.
type LoopState string

const (
	LoopStopped LoopState = "stopped"
	LoopRunning LoopState = "running"
)

const (
	defaultLoopInterval = 2 * time.Second
	defaultLoopCooldown = 60 * time.Second
)

// Assigner is what the loop drives. *Orchestrator implements it.
type Assigner interface {
	Stats() Stats
	TriggerAssignment(ctx context.Context) int
}

// waker is implemented by assigners that can signal new opportunities
// between ticks.
type waker interface {
	Wakeups() <-chan struct{}
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	Interval time.Duration // between cycles (0 = 2s)
	Cooldown time.Duration // after a failed cycle (0 = 60s)
	Bus      *events.Bus
}

// Loop periodically runs an assignment pass while tasks are pending and
// agents are idle. A failed cycle is logged and followed by a cooldown; the
// loop itself never exits on error.
type Loop struct {
	assigner Assigner
	interval time.Duration
	cooldown time.Duration
	bus      *events.Bus

	mu     sync.Mutex
	state  LoopState
	cancel context.CancelFunc
	done   chan struct{}
	wakeCh chan struct{}

	cycles   atomic.Int64
	failures atomic.Int64
	assigned atomic.Int64
}

// NewLoop creates a stopped loop.
func NewLoop(a Assigner, cfg LoopConfig) *Loop {
	return &Loop{
		assigner: a,
		interval: orDefault(cfg.Interval, defaultLoopInterval),
		cooldown: orDefault(cfg.Cooldown, defaultLoopCooldown),
		bus:      cfg.Bus,
		state:    LoopStopped,
		wakeCh:   make(chan struct{}, 1),
	}
}

// Start launches the loop. It is a no-op if the loop is already running.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LoopRunning {
		return
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	l.state = LoopRunning
	go l.run(ctx, l.done)
	slog.Info("assignment loop started", "interval", l.interval, "cooldown", l.cooldown)
}

// Stop halts the loop and waits for the current cycle to finish. Sleeps are
// interrupted, so Stop returns promptly.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.state != LoopRunning {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.state = LoopStopped
	l.mu.Unlock()

	cancel()
	<-done
	slog.Info("assignment loop stopped", "cycles", l.cycles.Load(), "failures", l.failures.Load())
}

// Wake requests an immediate cycle without waiting for the next tick.
func (l *Loop) Wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// State reports whether the loop is running.
func (l *Loop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Cycles returns how many cycles have run.
func (l *Loop) Cycles() int64 { return l.cycles.Load() }

// Failures returns how many cycles failed.
func (l *Loop) Failures() int64 { return l.failures.Load() }

// Assigned returns how many tasks the loop has assigned.
func (l *Loop) Assigned() int64 { return l.assigned.Load() }

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var external <-chan struct{}
	if w, ok := l.assigner.(waker); ok {
		external = w.Wakeups()
	}

	for {
		wait := l.interval
		if err := l.cycle(ctx); err != nil {
			l.failures.Add(1)
			slog.Error("assignment cycle failed", "error", err, "cooldown", l.cooldown)
			l.bus.Publish(events.NewTypedEvent(events.SourceLoop, events.LoopFailurePayload{
				Error:    err.Error(),
				Cooldown: l.cooldown,
			}))
			wait = l.cooldown
			// Wake-ups do not cut a cooldown short.
			if !sleep(ctx, wait, nil, nil) {
				return
			}
			continue
		}
		if !sleep(ctx, wait, l.wakeCh, external) {
			return
		}
	}
}

// cycle runs at most one assignment pass. A panic inside the pass is
// converted to an error.
func (l *Loop) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("assignment cycle panic: %v", r)
		}
	}()
	defer l.cycles.Add(1)

	st := l.assigner.Stats()
	if st.Pending == 0 || st.IdleAgents == 0 {
		return nil
	}
	n := l.assigner.TriggerAssignment(withTrigger(ctx, triggerLoop))
	if n > 0 {
		l.assigned.Add(int64(n))
		slog.Debug("background assignment", "assigned", n, "pending", st.Pending-n)
	}
	return nil
}

// sleep waits for d, a wake-up, or cancellation. It reports false when ctx
// is done.
func sleep(ctx context.Context, d time.Duration, wake, external <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case <-wake:
	case <-external:
	}
	return true
}
