package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	expiring *prometheus.CounterVec
	lowStock *prometheus.CounterVec
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

// Track starts a tracker for the named job.
func (m *Metrics) Track(job string) *Tracker {
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

// AddExpiring increments the expiring-lot counter for the supplied tier.
func (m *Metrics) AddExpiring(tier string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.expiring.WithLabelValues(tier).Add(float64(count))
}

// AddLowStock increments the low-stock counter for the supplied tier.
func (m *Metrics) AddLowStock(tier string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.lowStock.WithLabelValues(tier).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacore_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacore_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pharmacore_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	expiring := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacore_jobs_expiring_lots_total",
		Help: "Batches flagged by the expiry scan, grouped by stock tier.",
	}, []string{"tier"})
	lowStock := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacore_jobs_low_stock_lines_total",
		Help: "Inventory lines flagged by the low stock scan, grouped by stock tier.",
	}, []string{"tier"})
	registerer.MustRegister(runs, failures, duration, expiring, lowStock)
	return &Metrics{runs: runs, failures: failures, duration: duration, expiring: expiring, lowStock: lowStock}
}
