package ticket

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus metrics for the ticket engine. It keeps a
// private registry so tests can run collectors side by side.
type Metrics struct {
	registry *prometheus.Registry

	TransitionsTotal    *prometheus.CounterVec
	TicketsCreated      *prometheus.CounterVec
	SNAllocations       prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics collector with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loonflow",
			Name:      "transitions_total",
			Help:      "Total number of ticket transitions",
		}, []string{"workflow_id", "kind", "status"}),
		TicketsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loonflow",
			Name:      "tickets_created_total",
			Help:      "Total number of tickets created",
		}, []string{"workflow_id", "status"}),
		SNAllocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loonflow",
			Name:      "sn_allocations_total",
			Help:      "Total number of serial numbers allocated",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loonflow",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loonflow",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(m.TransitionsTotal)
	reg.MustRegister(m.TicketsCreated)
	reg.MustRegister(m.SNAllocations)
	reg.MustRegister(m.HTTPRequestsTotal)
	reg.MustRegister(m.HTTPRequestDuration)
	return m
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTransition increments the transition counter.
func (m *Metrics) RecordTransition(workflowID int64, kind, status string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(strconv.FormatInt(workflowID, 10), kind, status).Inc()
}

// RecordCreation increments the ticket creation counter.
func (m *Metrics) RecordCreation(workflowID int64, status string) {
	if m == nil {
		return
	}
	m.TicketsCreated.WithLabelValues(strconv.FormatInt(workflowID, 10), status).Inc()
}

// RecordSNAllocation increments the serial number counter.
func (m *Metrics) RecordSNAllocation() {
	if m == nil {
		return
	}
	m.SNAllocations.Inc()
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
