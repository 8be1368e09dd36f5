package utils

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the timeline service
type Metrics struct {
	ChoicesTotal    prometheus.Counter
	ForksTotal      prometheus.Counter
	ResetsTotal     *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	SessionsEvicted prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics returns the collectors registered on the default registry
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}

// NewMetrics registers a fresh set of collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChoicesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "timelines_choices_total",
			Help: "Total number of choices applied to timelines",
		}),
		ForksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "timelines_forks_total",
			Help: "Total number of parallel timelines created by forking",
		}),
		ResetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "timelines_resets_total",
			Help: "Total number of timeline resets by kind (single, all)",
		}, []string{"kind"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "timelines_sessions_active",
			Help: "Number of live sessions",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "timelines_sessions_evicted_total",
			Help: "Total number of sessions evicted after being idle",
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "timelines_errors_total",
			Help: "Total number of rejected operations by error type",
		}, []string{"type"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timelines_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// RecordAPIRequest records one HTTP request
func (m *Metrics) RecordAPIRequest(method, route string, statusCode int, duration time.Duration) {
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(statusCode)).Observe(duration.Seconds())
}

// RecordError counts a rejected operation
func (m *Metrics) RecordError(errorType string) {
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
