package worker

import (
	"context"
	"testing"
	"time"

	"mobile-build-orchestrator/internal/models"
	"mobile-build-orchestrator/internal/pipeline"
)

// manualTimer lets tests fire scheduler ticks deterministically.
type manualTimer struct {
	fn      func()
	stopped bool
}

func (m *manualTimer) Stop() bool {
	m.stopped = true
	return true
}

type manualClock struct {
	timers []*manualTimer
}

func (c *manualClock) schedule(_ time.Duration, f func()) timerHandle {
	t := &manualTimer{fn: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs the latest armed tick.
func (c *manualClock) fire() {
	if len(c.timers) == 0 {
		return
	}
	t := c.timers[len(c.timers)-1]
	if !t.stopped {
		t.fn()
	}
}

func newTestScheduler(st *memStore, enabled bool) (*Scheduler, *manualClock) {
	clock := &manualClock{}
	exec := newExecutor(st, map[string]pipeline.Pipeline{
		models.TargetExpo: &scriptedPipeline{result: pipeline.Result{Success: true}},
	})
	s := NewScheduler(NewClaimer(st, 10, testLogger()), exec, st, enabled, time.Second, testLogger())
	s.schedule = clock.schedule
	return s, clock
}

func TestSchedulerDisabledDoesNotStart(t *testing.T) {
	s, clock := newTestScheduler(newMemStore(), false)
	s.Start(context.Background())
	if s.Running() {
		t.Fatal("disabled scheduler must not run")
	}
	if len(clock.timers) != 0 {
		t.Fatal("disabled scheduler must not arm a timer")
	}
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	s, clock := newTestScheduler(newMemStore(), true)
	s.Start(context.Background())
	s.Start(context.Background())
	if !s.Running() {
		t.Fatal("scheduler should be running")
	}
	if len(clock.timers) != 1 {
		t.Fatalf("second Start must be a no-op, got %d timers", len(clock.timers))
	}
}

func TestSchedulerCycleClaimsExecutesAndRearms(t *testing.T) {
	st := newMemStore()
	st.put(queuedJob("job-1", time.Now()))
	s, clock := newTestScheduler(st, true)

	s.Start(context.Background())
	clock.fire()

	if got := st.get("job-1").Status; got != models.StatusCompleted {
		t.Fatalf("expected job completed after cycle, got %s", got)
	}
	// The cycle must have re-armed the next tick.
	if len(clock.timers) != 2 {
		t.Fatalf("expected a re-armed timer, got %d timers", len(clock.timers))
	}
}

func TestSchedulerExecutesAtMostOneJobPerCycle(t *testing.T) {
	st := newMemStore()
	base := time.Now()
	st.put(queuedJob("job-1", base))
	st.put(queuedJob("job-2", base.Add(time.Second)))
	s, clock := newTestScheduler(st, true)

	s.Start(context.Background())
	clock.fire()

	first, second := st.get("job-1"), st.get("job-2")
	if first.Status != models.StatusCompleted {
		t.Fatalf("oldest job should have run, got %s", first.Status)
	}
	if second.Status != models.StatusQueued {
		t.Fatalf("second job must wait for the next cycle, got %s", second.Status)
	}

	clock.fire()
	if got := st.get("job-2").Status; got != models.StatusCompleted {
		t.Fatalf("second cycle should run the next job, got %s", got)
	}
}

func TestSchedulerStopCancelsPendingTick(t *testing.T) {
	st := newMemStore()
	st.put(queuedJob("job-1", time.Now()))
	s, clock := newTestScheduler(st, true)

	s.Start(context.Background())
	s.Stop()
	if s.Running() {
		t.Fatal("scheduler should be stopped")
	}
	if !clock.timers[0].stopped {
		t.Fatal("pending tick was not canceled")
	}

	clock.fire()
	if got := st.get("job-1").Status; got != models.StatusQueued {
		t.Fatalf("stopped scheduler must not execute jobs, got %s", got)
	}
}

func TestSchedulerSurvivesClaimErrors(t *testing.T) {
	st := newMemStore()
	s, clock := newTestScheduler(st, true)
	s.Start(context.Background())

	// An empty store is the common no-work case; the loop must re-arm.
	clock.fire()
	clock.fire()
	if !s.Running() {
		t.Fatal("scheduler should still be running")
	}
	if len(clock.timers) != 3 {
		t.Fatalf("expected continuous re-arming, got %d timers", len(clock.timers))
	}
}
