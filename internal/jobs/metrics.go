package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs and the
// staleness pipeline.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	staleMarked prometheus.Counter
	reconciled  *prometheus.CounterVec
	backfilled  prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddStaleMarked counts records flagged stale by novelty changes.
func (m *Metrics) AddStaleMarked(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.staleMarked.Add(float64(count))
}

// AddReconciled counts reconciled records by outcome: corrected, unchanged or failed.
func (m *Metrics) AddReconciled(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reconciled.WithLabelValues(outcome).Add(float64(count))
}

// AddBackfilled counts retroactive IBC snapshots attached to legacy records.
func (m *Metrics) AddBackfilled(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.backfilled.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payroll_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payroll_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payroll_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	staleMarked := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payroll_stale_marked_total",
		Help: "Payroll records flagged stale after a novelty change.",
	})
	reconciled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payroll_reconciled_records_total",
		Help: "Stale payroll records processed by reconciliation, by outcome.",
	}, []string{"outcome"})
	backfilled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payroll_snapshots_backfilled_total",
		Help: "Retroactive IBC snapshots synthesised for legacy records.",
	})
	registerer.MustRegister(runs, failures, duration, staleMarked, reconciled, backfilled)
	return &Metrics{
		runs:        runs,
		failures:    failures,
		duration:    duration,
		staleMarked: staleMarked,
		reconciled:  reconciled,
		backfilled:  backfilled,
	}
}
