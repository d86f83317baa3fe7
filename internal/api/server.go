package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mobile-build-orchestrator/internal/config"
	"mobile-build-orchestrator/internal/models"
	"mobile-build-orchestrator/internal/store"
	"mobile-build-orchestrator/internal/telemetry"
	"mobile-build-orchestrator/internal/worker"
)

// JobStore is the persistence surface the HTTP layer needs.
// *store.Store implements it.
type JobStore interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.BuildJob, error)
	GetJob(ctx context.Context, id string) (models.BuildJob, error)
	CancelJob(ctx context.Context, id string) (bool, error)
	ListArtifacts(ctx context.Context, jobID string) ([]models.Artifact, error)
	RecordAudit(ctx context.Context, ev models.AuditEvent) error
}

// Limiter throttles requests per tenant.
type Limiter interface {
	Allow(ctx context.Context, tenant string) (bool, error)
}

// Server wires HTTP handlers for the build job API.
type Server struct {
	cfg     config.Config
	store   JobStore
	trigger *worker.Trigger
	limiter Limiter
}

// New constructs the API server. limiter may be nil to disable throttling.
func New(cfg config.Config, st JobStore, trigger *worker.Trigger, limiter Limiter) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		trigger: trigger,
		limiter: limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleCreate)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/jobs/{id}/artifacts", s.handleArtifacts)
	r.Post("/jobs/{id}/cancel", s.handleCancel)
	r.Post("/jobs/{id}/run", s.handleRunNow)
	return r
}

type createRequest struct {
	Target   string `json:"target"`
	Platform string `json:"platform"`
	Stage    string `json:"stage"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if !models.ValidTarget(req.Target) {
		http.Error(w, "unknown target", http.StatusBadRequest)
		return
	}
	if req.Stage == "" {
		req.Stage = models.StageBuild
	}
	if !models.ValidStage(req.Stage) {
		http.Error(w, "unknown stage", http.StatusBadRequest)
		return
	}
	if req.Platform == "" {
		req.Platform = models.PlatformBoth
	}
	if !models.ValidPlatform(req.Platform) {
		http.Error(w, "unknown platform", http.StatusBadRequest)
		return
	}

	tenant := tenantFromRequest(r)
	if !s.allow(w, r, tenant) {
		return
	}

	job, err := s.store.CreateJob(r.Context(), store.CreateJobParams{
		Tenant:   tenant,
		Target:   req.Target,
		Platform: req.Platform,
		Stage:    req.Stage,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = s.store.RecordAudit(r.Context(), models.AuditEvent{
		Tenant: tenant,
		JobID:  job.ID,
		Event:  "job.enqueued",
		Metadata: map[string]any{
			"target": job.Target, "stage": job.Stage, "platform": job.Platform,
		},
	})

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	artifacts, err := s.store.ListArtifacts(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to list artifacts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": artifacts})
}

// handleCancel flips a non-terminal job to canceled. A running job's
// external process keeps going; the orchestrator discards its result at
// the post-pipeline status check.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	canceled, err := s.store.CancelJob(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to cancel job", http.StatusInternalServerError)
		return
	}
	if !canceled {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "job is already " + job.Status,
		})
		return
	}
	_ = s.store.RecordAudit(r.Context(), models.AuditEvent{
		Tenant: job.Tenant,
		JobID:  job.ID,
		Event:  "job.cancel_requested",
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusCanceled})
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, tenantFromRequest(r)) {
		return
	}

	id := chi.URLParam(r, "id")
	res := s.trigger.RunJobNow(r.Context(), id)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request, tenant string) bool {
	if s.limiter == nil {
		return true
	}
	allowed, err := s.limiter.Allow(r.Context(), tenant)
	if err != nil {
		http.Error(w, "rate limit error", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
