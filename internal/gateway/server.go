package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/orchestra/internal/events"
	"github.com/dohr-michael/orchestra/internal/gateway/ws"
	"github.com/dohr-michael/orchestra/internal/orchestrator"
)

// Server is the Orchestra gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	orch       *orchestrator.Orchestrator
	addr       net.Addr
	ready      chan struct{}
}

// NewServer creates a new gateway server exposing orch over HTTP.
func NewServer(orch *orchestrator.Orchestrator, bus *events.Bus, host string, port int) *Server {
	hub := ws.NewHub(bus, func() any { return orch.GetState() })

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)

	s := &Server{
		hub:   hub,
		bus:   bus,
		orch:  orch,
		ready: make(chan struct{}),
	}

	// Routes
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/state", s.handleState)
	r.Post("/api/assign", s.handleAssign)

	// API: tasks
	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleEnqueue)
		r.Get("/{id}", s.handleGetTask)
		r.Post("/{id}/status", s.handleUpdateStatus)
		r.Post("/{id}/cancel", s.handleCancel)
		r.Post("/{id}/complete", s.handleComplete)
		r.Post("/{id}/fail", s.handleFail)
	})

	// API: agents
	r.Get("/api/agents", s.handleListAgents)
	r.Post("/api/agents/{id}/next", s.handleNextTask)
	r.Post("/api/agents/{id}/heartbeat", s.handleHeartbeat)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr()
	close(s.ready)
	slog.Info("Orchestra gateway listening", "addr", ln.Addr().String())

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Addr returns the listening address once Start has bound the socket.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
		return s.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	history := s.bus.History(limit)

	// Format timestamps nicely
	type eventJSON struct {
		ID        string             `json:"id"`
		TaskID    string             `json:"task_id,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			TaskID:    e.TaskID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetState())
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	n := s.orch.TriggerAssignment(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"assigned": n})
}

// requestLogger logs each request at debug level through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}
