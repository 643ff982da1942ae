package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dohr-michael/orchestra/internal/orchestrator"
	"github.com/dohr-michael/orchestra/internal/tasks"
)

// EnqueueBody is the request body of POST /api/tasks.
type EnqueueBody struct {
	Command      string `json:"command"`
	WorkspaceKey string `json:"workspace_key"`
	Priority     string `json:"priority,omitempty"` // name or number, default normal
}

// EnqueueResponse is returned by POST /api/tasks.
type EnqueueResponse struct {
	ID     string           `json:"id"`
	Status tasks.TaskStatus `json:"status"`
	Agent  string           `json:"agent_id,omitempty"`
}

// StatusBody is the request body of the status endpoints. Status is only
// read by POST /api/tasks/{id}/status.
type StatusBody struct {
	Status string `json:"status,omitempty"`
	Result string `json:"result,omitempty"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	all := s.orch.GetState().Tasks

	if v := r.URL.Query().Get("status"); v != "" {
		status, err := tasks.ParseStatus(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filtered := make([]tasks.Task, 0, len(all))
		for _, t := range all {
			if t.Status == status {
				filtered = append(filtered, t)
			}
		}
		all = filtered
	}

	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body EnqueueBody
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Command == "" {
		http.Error(w, "command is required", http.StatusBadRequest)
		return
	}
	priority, err := tasks.ParsePriority(body.Priority)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := s.orch.Enqueue(r.Context(), orchestrator.EnqueueRequest{
		Command:      body.Command,
		WorkspaceKey: body.WorkspaceKey,
		Priority:     priority,
	})

	resp := EnqueueResponse{ID: id, Status: tasks.TaskPending}
	if t, ok := s.orch.GetTask(id); ok {
		resp.Status = t.Status
		resp.Agent = t.AgentID
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.orch.GetTask(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, orchestrator.ErrTaskNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body StatusBody
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	status, err := tasks.ParseStatus(body.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeOutcome(w, s.orch.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status, body.Result))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.handleTerminal(w, r, tasks.TaskCancelled)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.handleTerminal(w, r, tasks.TaskCompleted)
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	s.handleTerminal(w, r, tasks.TaskFailed)
}

func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request, status tasks.TaskStatus) {
	var body StatusBody
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeOutcome(w, s.orch.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status, body.Result))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetState().Agents)
}

func (s *Server) handleNextTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.orch.NextTaskForAgent(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type heartbeater interface {
	Heartbeat(id string, at time.Time) bool
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	hb, ok := s.orch.Directory().(heartbeater)
	if !ok {
		http.Error(w, "agent directory does not record heartbeats", http.StatusNotImplemented)
		return
	}
	if !hb.Heartbeat(chi.URLParam(r, "id"), time.Now()) {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeOutcome maps an update outcome to a status code. The body is the
// outcome itself in every case.
func writeOutcome(w http.ResponseWriter, out orchestrator.Outcome) {
	status := http.StatusOK
	switch out.Reason {
	case orchestrator.ReasonTaskNotFound:
		status = http.StatusNotFound
	case orchestrator.ReasonInvalidTransition:
		status = http.StatusConflict
	}
	writeJSON(w, status, out)
}

// decodeBody decodes a JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
