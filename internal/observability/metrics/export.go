package metrics

import "github.com/prometheus/client_golang/prometheus"

// ExportMetrics counts generated documents
type ExportMetrics struct {
	documentsTotal *prometheus.CounterVec
	buildDuration  *prometheus.HistogramVec
}

// NewExportMetrics creates and registers the export collectors
func NewExportMetrics(registry *prometheus.Registry) (*ExportMetrics, error) {
	m := &ExportMetrics{
		documentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "export_documents_total",
				Help: "Total number of export documents built",
			},
			[]string{"format", "status"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "export_build_duration_seconds",
				Help:    "Time taken to build and persist an export document",
				Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
			},
			[]string{"format"},
		),
	}
	for _, c := range []prometheus.Collector{m.documentsTotal, m.buildDuration} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordExport records one export attempt
func (m *ExportMetrics) RecordExport(format, status string, seconds float64) {
	m.documentsTotal.WithLabelValues(format, status).Inc()
	m.buildDuration.WithLabelValues(format).Observe(seconds)
}
