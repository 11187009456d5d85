package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics observes job deliveries from the queue consumer.
type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	deliveryTotal    *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	deliveryInFlight prometheus.Gauge
	throttledTotal   prometheus.Counter
	queueLag         *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	deliveryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_delivery_total",
			Help:      "Total delivered jobs by status.",
		},
		[]string{"service", "status"},
	)
	deliveryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_delivery_duration_seconds",
			Help:      "Callback delivery duration in seconds by status.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"service", "status"},
	)
	deliveryInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "job_delivery_in_flight",
			Help:        "Number of in-flight job deliveries.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	throttledTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "job_throttled_total",
			Help:        "Deliveries postponed because the tenant was at its parallelism ceiling.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job dispatch and delivery start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(deliveryTotal, deliveryDuration, deliveryInFlight, throttledTotal, queueLag)

	return &WorkerMetrics{
		service:          service,
		registry:         registry,
		deliveryTotal:    deliveryTotal,
		deliveryDuration: deliveryDuration,
		deliveryInFlight: deliveryInFlight,
		throttledTotal:   throttledTotal,
		queueLag:         queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDelivery() {
	m.deliveryInFlight.Inc()
}

func (m *WorkerMetrics) FinishDelivery(duration time.Duration, err error) {
	m.deliveryInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.deliveryTotal.WithLabelValues(m.service, status).Inc()
	m.deliveryDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) Throttled() {
	m.throttledTotal.Inc()
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}
