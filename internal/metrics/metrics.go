// Package metrics exposes Prometheus collectors for the back office.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gym"

// Metrics owns a private registry so tests and multiple servers never collide
// on the global one.
type Metrics struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	conflicts  prometheus.Histogram
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	sweeps     *prometheus.CounterVec
}

// New registers every collector, including the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"service", "operation", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "operation"}),
		conflicts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_conflicts",
			Help:      "Number of blocking bookings reported per rejected request.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "expiry",
			Name:      "contracts_total",
			Help:      "Contracts handled by the expiry sweeper.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations,
		m.durations,
		m.conflicts,
		m.requests,
		m.latency,
		m.sweeps,
	)
	return m
}

// ObserveOperation records one service call.
func (m *Metrics) ObserveOperation(service, operation, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(service, operation, outcome).Inc()
	m.durations.WithLabelValues(service, operation).Observe(elapsed.Seconds())
}

// ObserveConflicts records the size of a conflict set.
func (m *Metrics) ObserveConflicts(count int) {
	m.conflicts.Observe(float64(count))
}

// ObserveRequest records one HTTP exchange. route is the matched pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveSweep records the outcome of one expiry pass.
func (m *Metrics) ObserveSweep(expired, failed int) {
	m.sweeps.WithLabelValues("expired").Add(float64(expired))
	m.sweeps.WithLabelValues("failed").Add(float64(failed))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
