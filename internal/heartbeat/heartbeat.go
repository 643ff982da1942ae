// Package heartbeat provides liveness detection for the Orchestra server.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dohr-michael/orchestra/internal/orchestrator"
)

// Status represents the liveness state of the server.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// Heartbeat is the data written to the heartbeat file.
type Heartbeat struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Gateway   string    `json:"gateway,omitempty"`

	Queue *orchestrator.Stats `json:"queue,omitempty"`
	Loop  *LoopInfo           `json:"loop,omitempty"`
}

// LoopInfo reports the background assignment loop.
type LoopInfo struct {
	State    orchestrator.LoopState `json:"state"`
	Cycles   int64                  `json:"cycles"`
	Failures int64                  `json:"failures"`
	Assigned int64                  `json:"assigned"`
}

// Option configures a Writer.
type Option func(*Writer)

// WithInterval overrides the write interval (default 30s).
func WithInterval(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithGateway records the gateway address clients should use.
func WithGateway(addr string) Option {
	return func(w *Writer) { w.gateway = addr }
}

// WithOrchestrator includes queue statistics in every heartbeat.
func WithOrchestrator(o *orchestrator.Orchestrator) Option {
	return func(w *Writer) { w.stats = o.Stats }
}

// WithLoop includes the assignment loop counters in every heartbeat.
func WithLoop(l *orchestrator.Loop) Option {
	return func(w *Writer) {
		w.loop = func() LoopInfo {
			return LoopInfo{State: l.State(), Cycles: l.Cycles(), Failures: l.Failures(), Assigned: l.Assigned()}
		}
	}
}

// Writer periodically writes a heartbeat file to disk.
type Writer struct {
	path     string
	interval time.Duration
	started  time.Time
	gateway  string
	stats    func() orchestrator.Stats
	loop     func() LoopInfo

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWriter creates a heartbeat writer that writes to path every 30s.
func NewWriter(path string, opts ...Option) *Writer {
	w := &Writer{
		path:     path,
		interval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins writing heartbeat files in a background goroutine.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return // already running
	}

	w.started = time.Now()
	w.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	// Write initial heartbeat immediately
	w.write()

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.write()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops writing and removes the heartbeat file.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return
	}

	w.cancel()
	<-w.done
	w.cancel = nil

	os.Remove(w.path)
}

func (w *Writer) write() {
	hb := Heartbeat{
		PID:       os.Getpid(),
		StartedAt: w.started,
		Timestamp: time.Now(),
		Uptime:    time.Since(w.started).Truncate(time.Second).String(),
		Gateway:   w.gateway,
	}
	if w.stats != nil {
		st := w.stats()
		hb.Queue = &st
	}
	if w.loop != nil {
		li := w.loop()
		hb.Loop = &li
	}

	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		slog.Warn("heartbeat dir", "error", err)
		return
	}

	// Atomic write: tmp + rename
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Warn("heartbeat write", "error", err)
		return
	}
	if err := os.Rename(tmp, w.path); err != nil {
		slog.Warn("heartbeat rename", "error", err)
	}
}

// Check reads a heartbeat file and returns the liveness status.
// maxAge determines how old a heartbeat can be before it's considered stale.
func Check(path string, maxAge time.Duration) (Status, *Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StatusDead, nil, nil
		}
		return StatusDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return StatusDead, nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}

	age := time.Since(hb.Timestamp)
	if age > maxAge {
		return StatusStale, &hb, nil
	}

	return StatusAlive, &hb, nil
}
