// Package server exposes the pipeline over HTTP: question ingress, batch
// status, pipeline stats, health, and Prometheus metrics.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-crucible/internal/application"
	"github.com/ahrav/go-crucible/internal/domain"
)

// headerCorrelationID carries the caller's request-scoped tracing
// identifier end to end. Absent, the dispatcher mints one.
const headerCorrelationID = "X-Correlation-Id"

// Server routes HTTP traffic to the pipeline.
type Server struct {
	pipeline *application.Pipeline
	logger   *slog.Logger
}

// New creates a server over the given pipeline.
func New(pipeline *application.Pipeline, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{pipeline: pipeline, logger: logger}
}

// Register installs the server's routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/questions", s.handleSubmit)
	mux.HandleFunc("GET /v1/batches/{id}", s.handleBatchStatus)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// submitRequest is the question ingress payload.
type submitRequest struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	receipt, err := s.pipeline.Dispatch(
		r.Context(), req.Question, req.Context, r.Header.Get(headerCorrelationID))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	id := domain.BatchID(r.PathValue("id"))

	view, err := s.pipeline.Status(id)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownBatch) {
			writeError(w, http.StatusNotFound, "unknown batch")
			return
		}
		writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
