package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"mobile-build-orchestrator/internal/models"
)

// ErrNotFound is returned when a job lookup misses.
var ErrNotFound = errors.New("job not found")

// Store wraps pgxpool for Postgres persistence of jobs, credentials,
// artifacts, and audit events.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJobParams collects inputs required to insert a build job.
type CreateJobParams struct {
	Tenant   string
	Target   string
	Platform string
	Stage    string
}

// CreateJob inserts a queued job row.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.BuildJob, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO build_jobs (id, tenant, target, platform, stage, status, logs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, '', $7)
	`, id, p.Tenant, p.Target, p.Platform, p.Stage, models.StatusQueued, now)
	if err != nil {
		return models.BuildJob{}, fmt.Errorf("insert job: %w", err)
	}

	return models.BuildJob{
		ID:        id,
		Tenant:    p.Tenant,
		Target:    p.Target,
		Platform:  p.Platform,
		Stage:     p.Stage,
		Status:    models.StatusQueued,
		CreatedAt: now,
	}, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.BuildJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant, target, platform, stage, status, logs, error, started_at, completed_at, created_at
		FROM build_jobs WHERE id = $1
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BuildJob{}, ErrNotFound
	}
	return job, err
}

// QueuedJobs returns up to limit queued jobs, oldest first. These are claim
// candidates; callers must still win the conditional update in ClaimJob.
func (s *Store) QueuedJobs(ctx context.Context, limit int) ([]models.BuildJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant, target, platform, stage, status, logs, error, started_at, completed_at, created_at
		FROM build_jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, models.StatusQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("query queued jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.BuildJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimJob performs the atomic queued -> running transition. It returns
// true only when this caller won the conditional update; a false return
// with nil error means another worker claimed the job first. This is the
// sole concurrency control between competing scheduler replicas.
func (s *Store) ClaimJob(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE build_jobs
		SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4
	`, id, models.StatusRunning, startedAt, models.StatusQueued)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveLogs persists the job's log text.
func (s *Store) SaveLogs(ctx context.Context, id, logs string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE build_jobs SET logs = $2 WHERE id = $1
	`, id, logs)
	return err
}

// FinalizeJob writes the terminal state of a job in one statement.
func (s *Store) FinalizeJob(ctx context.Context, id, status, logs string, errMsg *string, completedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE build_jobs
		SET status = $2, logs = $3, error = $4, completed_at = $5
		WHERE id = $1
	`, id, status, logs, errMsg, completedAt)
	return err
}

// CancelJob marks a non-terminal job canceled. Returns false when the job
// was already terminal (or missing). A running job keeps executing; the
// orchestrator notices the new status at its post-pipeline check.
func (s *Store) CancelJob(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE build_jobs
		SET status = $2, completed_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`, id, models.StatusCanceled, models.StatusQueued, models.StatusRunning)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountQueued returns how many jobs are waiting to be claimed.
func (s *Store) CountQueued(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM build_jobs WHERE status = $1
	`, models.StatusQueued).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queued jobs: %w", err)
	}
	return n, nil
}

// Credential returns a tenant's credential of the given type. The payload
// stays encrypted; decryption happens inside the pipeline that needs it.
func (s *Store) Credential(ctx context.Context, tenant, credType string) (models.Credential, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant, type, encrypted_payload, created_at
		FROM credentials WHERE tenant = $1 AND type = $2
	`, tenant, credType)

	var cred models.Credential
	err := row.Scan(&cred.ID, &cred.Tenant, &cred.Type, &cred.EncryptedPayload, &cred.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Credential{}, false, nil
	}
	if err != nil {
		return models.Credential{}, false, fmt.Errorf("query credential: %w", err)
	}
	return cred, true, nil
}

// CreateArtifact inserts an artifact row.
func (s *Store) CreateArtifact(ctx context.Context, a models.Artifact) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal artifact metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO artifacts (id, job_id, kind, path, url, metadata, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.JobID, a.Kind, a.Path, a.URL, meta, a.CreatedAt, a.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// ListArtifacts returns a job's artifacts, newest first.
func (s *Store) ListArtifacts(ctx context.Context, jobID string) ([]models.Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, kind, path, url, metadata, created_at, expires_at
		FROM artifacts WHERE job_id = $1
		ORDER BY created_at DESC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var out []models.Artifact
	for rows.Next() {
		var a models.Artifact
		var path, url pgtype.Text
		var meta []byte
		if err := rows.Scan(&a.ID, &a.JobID, &a.Kind, &path, &url, &meta, &a.CreatedAt, &a.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Path = textPtr(path)
		a.URL = textPtr(url)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal artifact metadata: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordAudit appends an audit event row.
func (s *Store) RecordAudit(ctx context.Context, ev models.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Recorded.IsZero() {
		ev.Recorded = time.Now().UTC()
	}
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, tenant, job_id, event, metadata, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.Tenant, ev.JobID, ev.Event, meta, ev.Recorded)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.BuildJob, error) {
	var job models.BuildJob
	var errText pgtype.Text
	var startedAt, completedAt pgtype.Timestamptz

	if err := row.Scan(&job.ID, &job.Tenant, &job.Target, &job.Platform, &job.Stage,
		&job.Status, &job.Logs, &errText, &startedAt, &completedAt, &job.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BuildJob{}, err
		}
		return models.BuildJob{}, fmt.Errorf("scan job: %w", err)
	}

	job.Error = textPtr(errText)
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
