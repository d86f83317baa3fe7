package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"mobile-build-orchestrator/internal/models"
	"mobile-build-orchestrator/internal/store"
)

// memStore is an in-memory JobStore/Auditor with the same claim semantics
// as the Postgres store: the queued -> running transition succeeds for
// exactly one caller.
type memStore struct {
	mu     sync.Mutex
	jobs   map[string]models.BuildJob
	events []models.AuditEvent

	finalized chan string
}

func newMemStore() *memStore {
	return &memStore{
		jobs:      make(map[string]models.BuildJob),
		finalized: make(chan string, 16),
	}
}

func (m *memStore) put(job models.BuildJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
}

func (m *memStore) get(id string) models.BuildJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

func (m *memStore) setStatus(id, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[id]
	job.Status = status
	m.jobs[id] = job
}

func (m *memStore) QueuedJobs(_ context.Context, limit int) ([]models.BuildJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BuildJob
	for _, job := range m.jobs {
		if job.Status == models.StatusQueued {
			out = append(out, job)
		}
	}
	// Oldest first, as the SQL query orders.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.Before(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ClaimJob(_ context.Context, id string, startedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != models.StatusQueued {
		return false, nil
	}
	job.Status = models.StatusRunning
	job.StartedAt = &startedAt
	m.jobs[id] = job
	return true, nil
}

func (m *memStore) GetJob(_ context.Context, id string) (models.BuildJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.BuildJob{}, store.ErrNotFound
	}
	return job, nil
}

func (m *memStore) SaveLogs(_ context.Context, id, logs string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if ok {
		job.Logs = logs
		m.jobs[id] = job
	}
	return nil
}

func (m *memStore) FinalizeJob(_ context.Context, id, status, logs string, errMsg *string, completedAt time.Time) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if ok {
		job.Status = status
		job.Logs = logs
		job.Error = errMsg
		job.CompletedAt = &completedAt
		m.jobs[id] = job
	}
	m.mu.Unlock()

	select {
	case m.finalized <- id:
	default:
	}
	return nil
}

func (m *memStore) CountQueued(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, job := range m.jobs {
		if job.Status == models.StatusQueued {
			n++
		}
	}
	return n, nil
}

func (m *memStore) RecordAudit(_ context.Context, ev models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) auditEvents(event string) []models.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditEvent
	for _, ev := range m.events {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
