package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mobile-build-orchestrator/internal/models"
	"mobile-build-orchestrator/internal/store"
	"mobile-build-orchestrator/internal/telemetry"
)

// TriggerResult is returned to the caller of the manual trigger.
type TriggerResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Trigger runs a specific queued job immediately, outside the poll loop.
type Trigger struct {
	store    JobStore
	executor *Executor
	logger   *slog.Logger
}

// NewTrigger wires the manual trigger entry point.
func NewTrigger(store JobStore, executor *Executor, logger *slog.Logger) *Trigger {
	return &Trigger{store: store, executor: executor, logger: logger}
}

// RunJobNow verifies the job is still queued, claims it, and executes it
// asynchronously. The call returns as soon as the claim commits; execution
// errors are recorded on the job and logged, never surfaced to the caller.
func (t *Trigger) RunJobNow(ctx context.Context, jobID string) TriggerResult {
	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			telemetry.TriggerRejects.Inc()
			return TriggerResult{Success: false, Message: "job not found"}
		}
		return TriggerResult{Success: false, Message: "could not load job: " + err.Error()}
	}
	if job.Status != models.StatusQueued {
		telemetry.TriggerRejects.Inc()
		return TriggerResult{Success: false, Message: fmt.Sprintf("job is %s; only queued jobs can be started", job.Status)}
	}

	now := time.Now().UTC()
	won, err := t.store.ClaimJob(ctx, jobID, now)
	if err != nil {
		return TriggerResult{Success: false, Message: "could not claim job: " + err.Error()}
	}
	if !won {
		telemetry.TriggerRejects.Inc()
		return TriggerResult{Success: false, Message: "job was already picked up by the scheduler"}
	}
	telemetry.JobsClaimed.Inc()

	job.Status = models.StatusRunning
	job.StartedAt = &now
	t.logger.Info("manually triggered job", "job_id", job.ID, "tenant", job.Tenant)

	// Fire and forget: the request context ends with the HTTP response, so
	// execution runs on a detached context.
	go t.executor.Execute(context.WithoutCancel(ctx), job)

	return TriggerResult{Success: true, Message: "job started"}
}
