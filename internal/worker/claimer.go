package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mobile-build-orchestrator/internal/models"
	"mobile-build-orchestrator/internal/telemetry"
)

// Claimer races other orchestrator replicas for queued jobs using the
// store's conditional update. No other locking exists; losing a claim is
// expected and silently skips to the next candidate.
type Claimer struct {
	store  JobStore
	batch  int
	logger *slog.Logger
}

// NewClaimer builds a claimer that scans up to batch candidates per cycle.
func NewClaimer(store JobStore, batch int, logger *slog.Logger) *Claimer {
	if batch <= 0 {
		batch = 10
	}
	return &Claimer{store: store, batch: batch, logger: logger}
}

// ClaimNext fetches queued candidates oldest-first and attempts the atomic
// queued -> running transition on each in turn, returning the first job
// this replica wins. A nil job with nil error means nothing was claimable.
func (c *Claimer) ClaimNext(ctx context.Context) (*models.BuildJob, error) {
	candidates, err := c.store.QueuedJobs(ctx, c.batch)
	if err != nil {
		return nil, fmt.Errorf("fetch queued jobs: %w", err)
	}

	for _, candidate := range candidates {
		now := time.Now().UTC()
		won, err := c.store.ClaimJob(ctx, candidate.ID, now)
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", candidate.ID, err)
		}
		if !won {
			// Another replica got there first.
			telemetry.ClaimConflicts.Inc()
			continue
		}

		telemetry.JobsClaimed.Inc()
		job := candidate
		job.Status = models.StatusRunning
		job.StartedAt = &now
		if job.Logs != "" {
			job.Logs += "\n"
		}
		job.Logs += fmt.Sprintf("Job claimed at %s", now.Format(time.RFC3339))
		if err := c.store.SaveLogs(ctx, job.ID, job.Logs); err != nil {
			c.logger.Warn("could not persist claim log line", "job_id", job.ID, "error", err)
		}
		c.logger.Info("claimed job", "job_id", job.ID, "tenant", job.Tenant, "target", job.Target, "stage", job.Stage)
		return &job, nil
	}
	return nil, nil
}
