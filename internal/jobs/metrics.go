package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	forceClosed *prometheus.CounterVec
	reportPages *prometheus.CounterVec
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

// AddForceClosed counts sessions the reconciliation sweep force-closed.
func (m *Metrics) AddForceClosed(tenantID string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.forceClosed.WithLabelValues(tenantID).Add(float64(count))
}

// AddReportPages counts report pages emitted per tenant and period.
func (m *Metrics) AddReportPages(tenantID, period string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reportPages.WithLabelValues(tenantID, period).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rollcall_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	forceClosed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_sessions_force_closed_total",
		Help: "Sessions force-closed by the reconciliation sweep, per tenant.",
	}, []string{"tenant"})
	reportPages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_report_pages_total",
		Help: "Report pages sent, per tenant and period.",
	}, []string{"tenant", "period"})
	registerer.MustRegister(runs, failures, duration, forceClosed, reportPages)
	return &Metrics{runs: runs, failures: failures, duration: duration, forceClosed: forceClosed, reportPages: reportPages}
}
