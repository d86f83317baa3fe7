package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mobile-build-orchestrator/internal/models"
	"mobile-build-orchestrator/internal/pipeline"
	"mobile-build-orchestrator/internal/runner"
	"mobile-build-orchestrator/internal/telemetry"
)

// Executor drives a claimed job through its target pipeline and commits
// the terminal state. Every failure mode, including panics, is scoped to
// the job being executed; the scheduler loop never dies with it.
type Executor struct {
	store       JobStore
	audit       Auditor
	pipelines   map[string]pipeline.Pipeline
	maxLogLines int
	logger      *slog.Logger
}

// NewExecutor wires the executor with the known target pipelines.
func NewExecutor(store JobStore, audit Auditor, pipelines map[string]pipeline.Pipeline, maxLogLines int, logger *slog.Logger) *Executor {
	return &Executor{
		store:       store,
		audit:       audit,
		pipelines:   pipelines,
		maxLogLines: maxLogLines,
		logger:      logger,
	}
}

// Execute runs one claimed job to completion. The job must already be in
// the running state (claimed by this replica).
func (e *Executor) Execute(ctx context.Context, job models.BuildJob) {
	start := time.Now()
	logs := runner.NewLogBuffer(e.maxLogLines)
	logs.Seed(job.Logs)

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("internal error: %v", r)
			logs.Append(msg)
			e.finalize(ctx, job, models.StatusFailed, logs, &msg)
			e.emit(ctx, job, EventJobFailed, map[string]any{"error": msg})
			telemetry.JobsFailed.Inc()
			e.logger.Error("job execution panicked", "job_id", job.ID, "panic", fmt.Sprint(r))
		}
	}()

	logs.Append(fmt.Sprintf("Starting %s %s (platform %s)", job.Target, job.Stage, job.Platform))
	if err := e.store.SaveLogs(ctx, job.ID, logs.String()); err != nil {
		e.logger.Warn("could not persist start log", "job_id", job.ID, "error", err)
	}
	e.emit(ctx, job, EventJobStarted, map[string]any{
		"target": job.Target, "stage": job.Stage, "platform": job.Platform,
	})

	res := e.dispatch(ctx, job, logs)

	// Cooperative cancellation: the dashboard may have flipped the job to
	// canceled while the pipeline ran. The check happens here, once, after
	// the pipeline returns; a running external process is never interrupted,
	// its result is simply discarded.
	if current, err := e.store.GetJob(ctx, job.ID); err == nil && current.Status == models.StatusCanceled {
		logs.Append("Job was canceled, discarding pipeline result")
		e.finalize(ctx, job, models.StatusCanceled, logs, nil)
		e.emit(ctx, job, EventJobCanceled, map[string]any{"elapsed": time.Since(start).String()})
		telemetry.JobsCanceled.Inc()
		e.logger.Info("job canceled", "job_id", job.ID)
		return
	}

	elapsed := time.Since(start)
	if res.Success {
		logs.Append(fmt.Sprintf("Finished in %s", elapsed.Round(time.Millisecond)))
		e.finalize(ctx, job, models.StatusCompleted, logs, nil)
		e.emit(ctx, job, EventJobCompleted, map[string]any{
			"elapsed":   elapsed.String(),
			"artifacts": len(res.Artifacts),
		})
		telemetry.JobsCompleted.Inc()
		e.logger.Info("job completed", "job_id", job.ID, "elapsed", elapsed)
		return
	}

	logs.Append("Failed: " + res.Error)
	errMsg := res.Error
	e.finalize(ctx, job, models.StatusFailed, logs, &errMsg)
	e.emit(ctx, job, EventJobFailed, map[string]any{"error": res.Error, "elapsed": elapsed.String()})
	telemetry.JobsFailed.Inc()
	e.logger.Info("job failed", "job_id", job.ID, "error", res.Error)
}

// dispatch is total over the known targets and stages: unknown values
// produce a failure result instead of a panic.
func (e *Executor) dispatch(ctx context.Context, job models.BuildJob, logs *runner.LogBuffer) pipeline.Result {
	p, ok := e.pipelines[job.Target]
	if !ok {
		return pipeline.Result{Success: false, Error: fmt.Sprintf("unknown build target %q", job.Target)}
	}
	switch job.Stage {
	case models.StageBuild:
		return p.Build(ctx, job, logs)
	case models.StageSubmit:
		return p.Submit(ctx, job, logs)
	default:
		return pipeline.Result{Success: false, Error: fmt.Sprintf("unknown job stage %q", job.Stage)}
	}
}

func (e *Executor) finalize(ctx context.Context, job models.BuildJob, status string, logs *runner.LogBuffer, errMsg *string) {
	if err := e.store.FinalizeJob(ctx, job.ID, status, logs.String(), errMsg, time.Now().UTC()); err != nil {
		e.logger.Error("could not finalize job", "job_id", job.ID, "status", status, "error", err)
	}
}

func (e *Executor) emit(ctx context.Context, job models.BuildJob, event string, metadata map[string]any) {
	ev := models.AuditEvent{
		Tenant:   job.Tenant,
		JobID:    job.ID,
		Event:    event,
		Metadata: metadata,
	}
	if err := e.audit.RecordAudit(ctx, ev); err != nil {
		e.logger.Warn("could not record audit event", "job_id", job.ID, "event", event, "error", err)
	}
}
