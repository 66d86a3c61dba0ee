package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DownloadMetrics tracks tile fetches and download jobs
type DownloadMetrics struct {
	tilesTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	jobsTotal     *prometheus.CounterVec
	jobsActive    prometheus.Gauge
}

// NewDownloadMetrics creates and registers the download collectors
func NewDownloadMetrics(registry *prometheus.Registry) (*DownloadMetrics, error) {
	m := &DownloadMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DownloadMetrics) initMetrics() {
	m.tilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "download_tiles_total",
			Help: "Total number of resolved tiles by outcome",
		},
		[]string{"server", "result"}, // result: completed, skipped, failed
	)

	m.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "download_fetch_duration_seconds",
			Help:    "Time taken to fetch a single tile",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12), // 10ms to ~40s
		},
		[]string{"server"},
	)

	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "download_jobs_total",
			Help: "Total number of finished download jobs by terminal status",
		},
		[]string{"mode", "status"},
	)

	m.jobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "download_jobs_active",
		Help: "Number of download jobs currently running",
	})
}

func (m *DownloadMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.tilesTotal, m.fetchDuration, m.jobsTotal, m.jobsActive}
}

// Describe implements the Collector interface
func (m *DownloadMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *DownloadMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordTileFetch records one resolved tile. Skipped tiles have no duration.
func (m *DownloadMetrics) RecordTileFetch(server, result string, elapsed time.Duration) {
	m.tilesTotal.WithLabelValues(server, result).Inc()
	if elapsed > 0 {
		m.fetchDuration.WithLabelValues(server).Observe(elapsed.Seconds())
	}
}

// JobStarted marks a job as running
func (m *DownloadMetrics) JobStarted(string) {
	m.jobsActive.Inc()
}

// JobFinished records the terminal status. Jobs rejected at start were
// never counted as active.
func (m *DownloadMetrics) JobFinished(mode, status string) {
	m.jobsTotal.WithLabelValues(mode, status).Inc()
	if status != "error" {
		m.jobsActive.Dec()
	}
}
