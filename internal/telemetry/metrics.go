package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsClaimed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "builds_claimed_total", Help: "Jobs claimed by this orchestrator"})
	ClaimConflicts   = prometheus.NewCounter(prometheus.CounterOpts{Name: "builds_claim_conflicts_total", Help: "Claim attempts lost to another replica"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "builds_completed_total", Help: "Jobs that finished successfully"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "builds_failed_total", Help: "Jobs that finished with a failure"})
	JobsCanceled     = prometheus.NewCounter(prometheus.CounterOpts{Name: "builds_canceled_total", Help: "Jobs discarded after external cancellation"})
	SimulatedStages  = prometheus.NewCounter(prometheus.CounterOpts{Name: "builds_simulated_total", Help: "Pipeline stages that ran in simulated mode"})
	TriggerRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "builds_trigger_rejects_total", Help: "Manual trigger requests rejected"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "builds_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "builds_queued_depth", Help: "Jobs waiting to be claimed"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsClaimed,
			ClaimConflicts,
			JobsCompleted,
			JobsFailed,
			JobsCanceled,
			SimulatedStages,
			TriggerRejects,
			RateLimitRejects,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}
