// Package server exposes the HTTP surface: sprint execution control,
// webhook ingestion, estimates, and insight read-models.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/48Nauts-Operator/lineary/internal/estimator"
	"github.com/48Nauts-Operator/lineary/internal/feedback"
	"github.com/48Nauts-Operator/lineary/internal/insights"
	"github.com/48Nauts-Operator/lineary/internal/metrics"
	"github.com/48Nauts-Operator/lineary/internal/sprint"
	"github.com/48Nauts-Operator/lineary/internal/types"
	"github.com/48Nauts-Operator/lineary/internal/webhook"
)

// Server wires the HTTP routes to the core subsystems.
type Server struct {
	executor *sprint.Executor
	loop     *feedback.Loop
	agg      *insights.Aggregator
	receiver *webhook.Receiver
	metrics  *metrics.Metrics
	registry prometheus.Gatherer
	log      *zap.Logger
}

// New builds the server. registry may be nil to disable /metrics.
func New(executor *sprint.Executor, loop *feedback.Loop, agg *insights.Aggregator,
	receiver *webhook.Receiver, m *metrics.Metrics, registry prometheus.Gatherer,
	log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		executor: executor,
		loop:     loop,
		agg:      agg,
		receiver: receiver,
		metrics:  m,
		registry: registry,
		log:      log,
	}
}

// Router assembles the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer(s.log))
	r.Use(requestLogger(s.log))
	r.Use(instrument(s.metrics))

	r.Route("/continuous/sprint/{sprintId}", func(r chi.Router) {
		r.Post("/start", s.handleSprintStart)
		r.Post("/task/{taskId}/complete", s.handleTaskComplete)
		r.Get("/status", s.handleSprintStatus)
		r.Post("/pause", s.handleSprintPause)
		r.Post("/resume", s.handleSprintResume)
	})

	r.Post("/webhook/{host}", s.handleWebhook)
	r.Get("/insights/{projectId}", s.handleReviewInsights)
	r.Get("/ai/learning/{projectId}", s.handleLearning)
	r.Post("/estimates/improved", s.handleImprovedEstimate)
	r.Post("/estimates/poker", s.handlePokerEstimate)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	return r
}

func (s *Server) handleSprintStart(w http.ResponseWriter, r *http.Request) {
	packet, err := s.executor.Start(r.Context(), chi.URLParam(r, "sprintId"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, packet)
}

// completePayload is the optional body for task completion. Agents that
// track their own time report it; otherwise elapsed time is inferred.
type completePayload struct {
	ActualHours *float64 `json:"actual_hours"`
}

func (s *Server) handleTaskComplete(w http.ResponseWriter, r *http.Request) {
	var payload completePayload
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "validation", "malformed completion payload")
			return
		}
	}

	directive, err := s.executor.Complete(r.Context(),
		chi.URLParam(r, "sprintId"), chi.URLParam(r, "taskId"), payload.ActualHours)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, directive)
}

func (s *Server) handleSprintStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.executor.Status(r.Context(), chi.URLParam(r, "sprintId"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSprintPause(w http.ResponseWriter, r *http.Request) {
	summary, err := s.executor.Pause(r.Context(), chi.URLParam(r, "sprintId"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSprintResume(w http.ResponseWriter, r *http.Request) {
	summary, err := s.executor.Resume(r.Context(), chi.URLParam(r, "sprintId"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	result, err := s.receiver.Ingest(r, chi.URLParam(r, "host"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReviewInsights(w http.ResponseWriter, r *http.Request) {
	m, err := s.agg.Reviews(r.Context(),
		chi.URLParam(r, "projectId"), r.URL.Query().Get("range"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleLearning(w http.ResponseWriter, r *http.Request) {
	summary, err := s.agg.Learning(r.Context(), chi.URLParam(r, "projectId"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type improvedEstimateRequest struct {
	ProjectID  string `json:"project_id"`
	IssueType  string `json:"issue_type"`
	Complexity int    `json:"complexity"`
}

func (s *Server) handleImprovedEstimate(w http.ResponseWriter, r *http.Request) {
	var req improvedEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed estimate request")
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "validation", "project_id is required")
		return
	}

	est, err := s.loop.ImprovedEstimate(r.Context(), req.ProjectID,
		types.IssueType(req.IssueType), req.Complexity)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

type pokerRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	StoryPoints int      `json:"story_points"`
	Priority    int      `json:"priority"`
	Labels      []string `json:"labels"`
}

func (s *Server) handlePokerEstimate(w http.ResponseWriter, r *http.Request) {
	var req pokerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed estimate request")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "validation", "title is required")
		return
	}

	est := estimator.Compute(estimator.Input{
		Title:       req.Title,
		Description: req.Description,
		StoryPoints: req.StoryPoints,
		Priority:    req.Priority,
		Labels:      req.Labels,
	})
	writeJSON(w, http.StatusOK, est)
}
