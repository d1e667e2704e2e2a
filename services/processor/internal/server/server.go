package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"flipbook/internal/util"
	"flipbook/pkg/queue"
)

// JobReader looks up queue job state.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
}

// Server exposes health and job status endpoints for the processor.
type Server struct {
	jobs JobReader
	mux  *http.ServeMux
}

// New constructs the server with routes configured.
func New(jobs JobReader) *Server {
	s := &Server{jobs: jobs, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("processor", s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/processor/jobs/", s.handleJobByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/processor/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	job, ok, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("job lookup failed", "job_id", id, "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal server error")
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: util.RequestIDFromRequest(r)})
}
