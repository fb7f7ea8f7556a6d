// Package metrics exposes Prometheus metrics for job admission, execution and cleanup.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low cardinality: never a job id or URL.

var (
	// JobsSubmittedTotal counts admitted jobs by mode.
	JobsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubefetch_jobs_submitted_total",
		Help: "Total number of admitted download jobs, by mode.",
	}, []string{"mode"})

	// JobsRejectedTotal counts submissions refused before a job was created.
	JobsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubefetch_jobs_rejected_total",
		Help: "Total number of rejected submissions, by reason (busy/invalid).",
	}, []string{"reason"})

	// JobsFinishedTotal counts jobs reaching a terminal run status.
	JobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubefetch_jobs_finished_total",
		Help: "Total number of finished jobs, by status and failure kind.",
	}, []string{"status", "kind"})

	// JobDuration observes wall time from start to terminal status.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tubefetch_job_duration_seconds",
		Help:    "Wall time of download jobs from start to terminal status.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
	}, []string{"mode", "status"})

	// DeliveriesTotal counts artifacts handed to clients.
	DeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tubefetch_deliveries_total",
		Help: "Total number of completed artifacts delivered to a client.",
	})

	// ReclaimedTotal counts jobs cleaned up, by path (delivered/stale/orphan).
	ReclaimedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubefetch_reclaimed_total",
		Help: "Total number of reclaimed jobs or directories, by reason.",
	}, []string{"reason"})

	// ActiveJobs tracks jobs currently holding a worker slot.
	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tubefetch_active_jobs",
		Help: "Current number of jobs holding a worker slot.",
	})
)

func RecordSubmit(mode string) {
	JobsSubmittedTotal.WithLabelValues(mode).Inc()
	ActiveJobs.Inc()
}

func RecordReject(reason string) {
	JobsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordFinish is called once per job when its slot is released.
func RecordFinish(mode, status, kind string, took time.Duration) {
	if kind == "" {
		kind = "none"
	}
	JobsFinishedTotal.WithLabelValues(status, kind).Inc()
	JobDuration.WithLabelValues(mode, status).Observe(took.Seconds())
	ActiveJobs.Dec()
}

func RecordDelivery() {
	DeliveriesTotal.Inc()
}

func RecordReclaim(reason string) {
	ReclaimedTotal.WithLabelValues(reason).Inc()
}
