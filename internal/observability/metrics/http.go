package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

const namespace = "missionstats"

type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	submissionsTotal     *prometheus.CounterVec
	submissionConfidence *prometheus.HistogramVec
	recordsDeletedTotal  *prometheus.CounterVec
	reviewsTotal         *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	submissionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "total",
			Help:      "Screenshot submissions by decision and error code.",
		},
		[]string{"service", "status", "error_code"},
	)
	submissionConfidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "confidence",
			Help:      "Overall record confidence of parsed submissions.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		},
		[]string{"service", "status"},
	)
	recordsDeletedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "deleted_total",
			Help:      "Records removed through deletion requests by scope.",
		},
		[]string{"service", "scope"},
	)
	reviewsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "reviews_total",
			Help:      "Reviewer verdicts accepted for the next audit run.",
		},
		[]string{"service", "verdict"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		submissionsTotal,
		submissionConfidence,
		recordsDeletedTotal,
		reviewsTotal,
	)

	return &HTTPServerMetrics{
		registry:             registry,
		service:              service,
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		submissionsTotal:     submissionsTotal,
		submissionConfidence: submissionConfidence,
		recordsDeletedTotal:  recordsDeletedTotal,
		reviewsTotal:         reviewsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath folds record, server and user ids out of metric labels.
func normalizePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return path
	}
	switch parts[1] {
	case "records":
		parts[2] = "{id}"
	case "servers":
		parts[2] = "{server_id}"
	case "users":
		parts[2] = "{user_id}"
	}
	return "/" + strings.Join(parts, "/")
}

// ObserveSubmission implements usecase.SubmissionObserver.
func (m *HTTPServerMetrics) ObserveSubmission(status domain.RecordStatus, code domain.ErrorCode, confidence float64) {
	codeLabel := string(code)
	if codeLabel == "" {
		codeLabel = "none"
	}
	m.submissionsTotal.WithLabelValues(m.service, string(status), codeLabel).Inc()
	// early rejections never reach the parser and carry no confidence
	if confidence > 0 || status != domain.StatusRejected {
		m.submissionConfidence.WithLabelValues(m.service, string(status)).Observe(confidence)
	}
}

func (m *HTTPServerMetrics) RecordDeletion(scope string, removed int) {
	if removed <= 0 {
		return
	}
	m.recordsDeletedTotal.WithLabelValues(m.service, scope).Add(float64(removed))
}

func (m *HTTPServerMetrics) RecordReview(confirmed bool, corrections int) {
	verdict := "confirm"
	if corrections > 0 {
		verdict = "correct"
	}
	if confirmed && corrections > 0 {
		verdict = "correct_and_confirm"
	}
	m.reviewsTotal.WithLabelValues(m.service, verdict).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
