package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ternarybob/ralph/pkg/ralph"
)

// SubmitTaskRequest is the request body for POST /tasks.
type SubmitTaskRequest struct {
	Prompt           string  `json:"prompt"`
	Description      string  `json:"description,omitempty"`
	WorkingDirectory string  `json:"working_directory,omitempty"`
	Provider         string  `json:"provider,omitempty"`
	Model            string  `json:"model,omitempty"`
	MaxIterations    int     `json:"max_iterations,omitempty"`
	MaxTokens        int     `json:"max_tokens,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	RunTests         *bool   `json:"run_tests,omitempty"`
	RunLint          *bool   `json:"run_lint,omitempty"`
	RunTypecheck     *bool   `json:"run_typecheck,omitempty"`
	RunBuild         *bool   `json:"run_build,omitempty"`
}

// SubmitTaskResponse is the response for POST /tasks.
type SubmitTaskResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "task runner not configured")
		return
	}

	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Prompt) < 10 {
		writeError(w, http.StatusBadRequest, "prompt is required and must be at least 10 characters")
		return
	}

	cfg := ralph.DefaultTaskConfig()
	rc := s.cfg.Ralph
	if rc.MaxIterations > 0 {
		cfg.MaxIterations = rc.MaxIterations
	}
	if rc.IterationTimeoutSeconds > 0 {
		cfg.IterationTimeoutSeconds = rc.IterationTimeoutSeconds
	}
	if rc.CompletionPromise != "" {
		cfg.CompletionPromise = rc.CompletionPromise
	}
	cfg.RunTests, cfg.RunLint, cfg.RunTypecheck, cfg.RunBuild = rc.RunTests, rc.RunLint, rc.RunTypecheck, rc.RunBuild
	if req.WorkingDirectory != "" {
		cfg.WorkingDirectory = req.WorkingDirectory
	}
	if req.Provider != "" {
		cfg.Provider = req.Provider
	}
	if req.Model != "" {
		cfg.Model = req.Model
	}
	if req.MaxIterations > 0 {
		cfg.MaxIterations = req.MaxIterations
	}
	if req.MaxTokens > 0 {
		cfg.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		cfg.Temperature = req.Temperature
	}
	if req.RunTests != nil {
		cfg.RunTests = *req.RunTests
	}
	if req.RunLint != nil {
		cfg.RunLint = *req.RunLint
	}
	if req.RunTypecheck != nil {
		cfg.RunTypecheck = *req.RunTypecheck
	}
	if req.RunBuild != nil {
		cfg.RunBuild = *req.RunBuild
	}

	id, err := s.runner.Submit(r.Context(), req.Prompt, req.Description, cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, SubmitTaskResponse{ID: id.String(), Status: "started"})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "task runner not configured")
		return
	}
	id, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.runner.Task(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeJSON(w, http.StatusOK, []ralph.Summary{})
		return
	}
	writeJSON(w, http.StatusOK, s.runner.List())
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "task runner not configured")
		return
	}
	id, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.runner.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleWaitTask blocks until the task reaches a terminal state or the
// request's own context is cancelled, whichever comes first. An optional
// ?timeout_seconds= query param bounds the wait independent of the client.
func (s *Server) handleWaitTask(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "task runner not configured")
		return
	}
	id, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if secs := r.URL.Query().Get("timeout_seconds"); secs != "" {
		if d, err := time.ParseDuration(secs + "s"); err == nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	summary, err := s.runner.Wait(ctx, id)
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleTaskEvents streams task lifecycle events as Server-Sent Events.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.monitor.Subscribe()
	defer s.monitor.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, _ := json.Marshal(event)
			w.Write([]byte("data: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

func parseTaskID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}
