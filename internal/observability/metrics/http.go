package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// HTTPMetrics contains Prometheus metrics for the API
type HTTPMetrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Progress streams (SSE and NDJSON)
	streamActiveConnections prometheus.Gauge
	streamMessagesSent      *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers new HTTP handler metrics
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"}, // path is the route pattern, not the raw URL
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.streamActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_progress_streams_active",
		Help: "Number of open progress streams",
	})

	m.streamMessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_progress_messages_sent_total",
			Help: "Total number of progress messages written to streams",
		},
		[]string{"format"}, // format: sse, ndjson
	)
}

func (m *HTTPMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.streamActiveConnections,
		m.streamMessagesSent,
	}
}

// Describe implements the Collector interface
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors() {
		collector.Collect(ch)
	}
}

// RecordHTTPRequest records an HTTP request
func (m *HTTPMetrics) RecordHTTPRequest(method, path string, statusCode int, duration float64) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// StreamOpened records a new progress stream
func (m *HTTPMetrics) StreamOpened() {
	m.streamActiveConnections.Inc()
}

// StreamClosed records a closed progress stream
func (m *HTTPMetrics) StreamClosed() {
	m.streamActiveConnections.Dec()
}

// RecordStreamMessage records one message written to a progress stream
func (m *HTTPMetrics) RecordStreamMessage(format string) {
	m.streamMessagesSent.WithLabelValues(format).Inc()
}

// ActiveStreams returns the number of open progress streams
func (m *HTTPMetrics) ActiveStreams() float64 {
	metric := &dto.Metric{}
	if err := m.streamActiveConnections.Write(metric); err != nil {
		return 0
	}
	return metric.GetGauge().GetValue()
}
