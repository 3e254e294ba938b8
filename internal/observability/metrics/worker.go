package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	jobTotal     *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobInFlight  prometheus.Gauge
	auditFlags   *prometheus.CounterVec
	auditPending prometheus.Gauge
	purgedTotal  prometheus.Counter
	requestLag   prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	jobTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_runs_total",
			Help:      "Scheduled and queued job runs by job and status.",
		},
		[]string{"service", "job", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Job run duration in seconds by job and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "job", "status"},
	)
	jobInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "jobs_in_flight",
			Help:        "Number of running jobs.",
			ConstLabels: constLabels,
		},
	)
	auditFlags := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "flags_total",
			Help:      "Audit flags emitted by reason.",
		},
		[]string{"service", "reason"},
	)
	auditPending := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "audit",
			Name:        "pending_records",
			Help:        "Audit candidates still waiting for a review after the last run.",
			ConstLabels: constLabels,
		},
	)
	purgedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "retention",
			Name:        "purged_total",
			Help:        "Expired records removed by the retention purge.",
			ConstLabels: constLabels,
		},
	)
	requestLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "audit_request_lag_seconds",
			Help:        "Delay between an audit request's as-of instant and its processing start.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(jobTotal, jobDuration, jobInFlight, auditFlags, auditPending, purgedTotal, requestLag)

	return &WorkerMetrics{
		registry:     registry,
		service:      service,
		jobTotal:     jobTotal,
		jobDuration:  jobDuration,
		jobInFlight:  jobInFlight,
		auditFlags:   auditFlags,
		auditPending: auditPending,
		purgedTotal:  purgedTotal,
		requestLag:   requestLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.jobInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(job string, duration time.Duration, err error) {
	m.jobInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.jobTotal.WithLabelValues(m.service, job, status).Inc()
	m.jobDuration.WithLabelValues(m.service, job, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveAudit(report *domain.AuditReport) {
	if report == nil {
		return
	}
	for _, flag := range report.Flags {
		m.auditFlags.WithLabelValues(m.service, string(flag.Reason)).Inc()
	}
	m.auditPending.Set(float64(report.Pending))
}

func (m *WorkerMetrics) ObservePurge(removed int) {
	if removed > 0 {
		m.purgedTotal.Add(float64(removed))
	}
}

func (m *WorkerMetrics) ObserveRequestLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.requestLag.Observe(lag.Seconds())
}
