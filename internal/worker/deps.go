// Package worker contains the orchestrator: the polling scheduler, the
// optimistic claimer, the executor that drives a claimed job through its
// pipeline, and the manual trigger entry point.
package worker

import (
	"context"
	"time"

	"mobile-build-orchestrator/internal/models"
)

// JobStore is the subset of the persistence layer the orchestrator mutates
// jobs through. *store.Store implements it.
type JobStore interface {
	QueuedJobs(ctx context.Context, limit int) ([]models.BuildJob, error)
	ClaimJob(ctx context.Context, id string, startedAt time.Time) (bool, error)
	GetJob(ctx context.Context, id string) (models.BuildJob, error)
	SaveLogs(ctx context.Context, id, logs string) error
	FinalizeJob(ctx context.Context, id, status, logs string, errMsg *string, completedAt time.Time) error
	CountQueued(ctx context.Context) (int64, error)
}

// Auditor records job lifecycle events for the audit trail.
type Auditor interface {
	RecordAudit(ctx context.Context, ev models.AuditEvent) error
}

// Audit event names emitted by the executor.
const (
	EventJobStarted   = "job.started"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
	EventJobCanceled  = "job.canceled"
)
