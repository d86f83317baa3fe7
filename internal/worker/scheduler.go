package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mobile-build-orchestrator/internal/telemetry"
)

// timerHandle is the subset of *time.Timer the scheduler needs; tests swap
// in a deterministic implementation.
type timerHandle interface {
	Stop() bool
}

// scheduleFunc arms a one-shot timer. The default is time.AfterFunc.
type scheduleFunc func(d time.Duration, f func()) timerHandle

func afterFunc(d time.Duration, f func()) timerHandle {
	return time.AfterFunc(d, f)
}

// Scheduler owns the poll loop: claim at most one job per cycle, execute
// it, then re-arm. One scheduler runs per process; multiple replicas
// coordinate purely through the claimer's conditional update.
type Scheduler struct {
	claimer  *Claimer
	executor *Executor
	store    JobStore
	enabled  bool
	interval time.Duration
	logger   *slog.Logger

	schedule scheduleFunc

	mu      sync.Mutex
	running bool
	next    timerHandle
	ctx     context.Context
}

// NewScheduler builds a stopped scheduler. Start is a no-op when enabled
// is false.
func NewScheduler(claimer *Claimer, executor *Executor, store JobStore, enabled bool, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		claimer:  claimer,
		executor: executor,
		store:    store,
		enabled:  enabled,
		interval: interval,
		logger:   logger,
		schedule: afterFunc,
	}
}

// Start arms the poll loop. Calling Start on a running scheduler is a
// no-op, as is starting a disabled one.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.enabled {
		s.logger.Info("scheduler disabled, not starting")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.ctx = ctx
	s.next = s.schedule(s.interval, s.cycle)
	s.logger.Info("scheduler started", "interval", s.interval)
}

// Stop cancels the pending tick and clears the running flag. The cycle in
// flight, if any, finishes its current job.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.next != nil {
		s.next.Stop()
		s.next = nil
	}
	s.logger.Info("scheduler stopped")
}

// Running reports whether the poll loop is armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// cycle claims and executes at most one job, then re-arms. A failure
// inside the cycle is logged and never halts the loop.
func (s *Scheduler) cycle() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	defer s.rearm()

	if depth, err := s.store.CountQueued(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}

	job, err := s.claimer.ClaimNext(ctx)
	if err != nil {
		s.logger.Error("claim cycle failed", "error", err)
		return
	}
	if job == nil {
		return
	}
	s.executor.Execute(ctx, *job)
}

func (s *Scheduler) rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.next = s.schedule(s.interval, s.cycle)
}
