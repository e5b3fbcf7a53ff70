// Package server exposes the workflow engine over HTTP for a builder UI:
// workflow CRUD, execution lifecycle, cheap status polling, log paging, and
// replay. All bodies are JSON.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowmatic/engine/workflow"
)

// DefaultLogPageSize bounds log responses when the client gives no limit.
const DefaultLogPageSize = 100

// Server routes HTTP requests to an Engine.
type Server struct {
	engine *workflow.Engine
	logger *slog.Logger
	mux    *http.ServeMux
}

// New builds a Server. When reg is non-nil a Prometheus scrape endpoint is
// mounted at /metrics.
func New(engine *workflow.Engine, logger *slog.Logger, reg *prometheus.Registry) *Server {
	s := &Server{
		engine: engine,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /workflows", s.saveWorkflow)
	s.mux.HandleFunc("GET /workflows/{id}", s.getWorkflow)
	s.mux.HandleFunc("POST /workflows/{id}/executions", s.initiateExecution)
	s.mux.HandleFunc("GET /workflows/{id}/executions", s.listExecutions)

	s.mux.HandleFunc("POST /executions/{id}/start", s.startExecution)
	s.mux.HandleFunc("POST /executions/{id}/cancel", s.cancelExecution)
	s.mux.HandleFunc("GET /executions/{id}", s.getExecution)
	s.mux.HandleFunc("GET /executions/{id}/status", s.getStatus)
	s.mux.HandleFunc("GET /executions/{id}/logs", s.getLogs)
	s.mux.HandleFunc("POST /executions/{id}/replay", s.replayExecution)
	s.mux.HandleFunc("POST /executions/{id}/retry-failed", s.retryFailed)

	s.mux.HandleFunc("POST /node-types/{type}/test", s.testNode)
	s.mux.HandleFunc("GET /healthz", s.healthz)

	if reg != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) saveWorkflow(w http.ResponseWriter, r *http.Request) {
	var def workflow.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		s.writeError(w, &workflow.ValidationError{
			Kind:    workflow.ValidationMalformed,
			Message: "invalid workflow JSON: " + err.Error(),
		})
		return
	}
	if err := s.engine.SaveWorkflow(r.Context(), &def); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": def.ID})
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	def, err := s.engine.Workflow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, def)
}

func (s *Server) initiateExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Initiate(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"executionId": rec.ID})
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	fps, err := s.engine.List(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if fps == nil {
		fps = []workflow.Fingerprint{}
	}
	s.writeJSON(w, http.StatusOK, fps)
}

func (s *Server) startExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.Start(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	fp, err := s.engine.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, fp)
}

func (s *Server) cancelExecution(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Cancel(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// getStatus serves the polling loop of a builder UI: id, status, updatedAt
// only, never the node execution list.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	fp, err := s.engine.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fp)
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", DefaultLogPageSize)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLogPageSize
	}

	lines, total, err := s.engine.Logs(r.Context(), r.PathValue("id"), (page-1)*limit, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if lines == nil {
		lines = []workflow.LogLine{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"lines": lines,
		"page":  page,
		"limit": limit,
		"total": total,
	})
}

func (s *Server) replayExecution(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromNodeID string `json:"from_node_id"`
	}
	// An empty body means full replay.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, &workflow.ValidationError{
			Kind:    workflow.ValidationMalformed,
			Message: "invalid replay request JSON: " + err.Error(),
		})
		return
	}
	rec, err := s.engine.Replay(r.Context(), r.PathValue("id"), req.FromNodeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) retryFailed(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.RetryFailed(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

// testNode runs one handler outside any workflow, so a builder UI can test
// a node's configuration interactively.
func (s *Server) testNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config map[string]any `json:"config"`
		Input  any            `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &workflow.ValidationError{
			Kind:    workflow.ValidationMalformed,
			Message: "invalid test request JSON: " + err.Error(),
		})
		return
	}
	rec, logs, err := s.engine.TestNode(r.Context(), r.PathValue("type"), req.Config, req.Input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if logs == nil {
		logs = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"result": rec,
		"logs":   logs,
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err.Error())
	}
}

// writeError maps engine errors to HTTP status codes: validation failures
// are 400, unknown IDs 404, wrong-state operations and empty retries 409,
// everything else 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	kind := "internal"

	var ve *workflow.ValidationError
	var se *workflow.StateError
	switch {
	case errors.As(err, &ve):
		code = http.StatusBadRequest
		kind = "validation"
	case errors.Is(err, workflow.ErrNotFound):
		code = http.StatusNotFound
		kind = "not_found"
	case errors.Is(err, workflow.ErrNothingToRetry):
		code = http.StatusConflict
		kind = "nothing_to_retry"
	case errors.As(err, &se):
		code = http.StatusConflict
		kind = "state"
	}

	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err.Error())
	}
	s.writeJSON(w, code, map[string]string{
		"error": err.Error(),
		"kind":  kind,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
