package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
)

const namespace = "statement_pipeline"

type HTTPServerMetrics struct {
	service  string
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	uploadFilesTotal  *prometheus.CounterVec
	statementTotal    *prometheus.CounterVec
	statementDuration *prometheus.HistogramVec
	statementInFlight prometheus.Gauge
	streamSubscribers prometheus.Gauge
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
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	uploadFilesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "files_total",
			Help:      "Uploaded files by initial statement status.",
		},
		[]string{"service", "status"},
	)
	statementTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "statement",
			Name:      "process_total",
			Help:      "Processing trigger invocations by outcome.",
		},
		[]string{"service", "outcome"},
	)
	statementDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "statement",
			Name:      "process_duration_seconds",
			Help:      "Processing trigger duration in seconds by outcome.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"service", "outcome"},
	)
	statementInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "statement",
			Name:        "process_in_flight",
			Help:        "Number of statements being processed by this instance.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	streamSubscribers := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "status_stream",
			Name:        "subscribers",
			Help:        "Number of open status event streams.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		uploadFilesTotal,
		statementTotal,
		statementDuration,
		statementInFlight,
		streamSubscribers,
	)

	return &HTTPServerMetrics{
		service:           service,
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		uploadFilesTotal:  uploadFilesTotal,
		statementTotal:    statementTotal,
		statementDuration: statementDuration,
		statementInFlight: statementInFlight,
		streamSubscribers: streamSubscribers,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware must run after route matching so requests are labelled by route template.
func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := routeTemplate(r)
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

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return "unmatched"
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return "unmatched"
	}
	return tpl
}

func (m *HTTPServerMetrics) RecordUpload(statements []domain.Statement) {
	for _, s := range statements {
		m.uploadFilesTotal.WithLabelValues(m.service, string(s.Status)).Inc()
	}
}

func (m *HTTPServerMetrics) StartStatement() {
	m.statementInFlight.Inc()
}

func (m *HTTPServerMetrics) FinishStatement(outcome domain.OutcomeStatus, duration time.Duration) {
	m.statementInFlight.Dec()
	label := string(outcome)
	if label == "" {
		label = "unknown"
	}
	m.statementTotal.WithLabelValues(m.service, label).Inc()
	m.statementDuration.WithLabelValues(m.service, label).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) StreamOpened() { m.streamSubscribers.Inc() }
func (m *HTTPServerMetrics) StreamClosed() { m.streamSubscribers.Dec() }

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

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
