// Package observability wires the Prometheus registry used by label-tiles.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Download *metrics.DownloadMetrics
	Labels   *metrics.LabelMetrics
	Export   *metrics.ExportMetrics
	HTTP     *metrics.HTTPMetrics
}

// NewMetrics creates a new instance of Metrics on a private registry,
// including the Go runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	downloadMetrics, err := metrics.NewDownloadMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create download metrics: %w", err)
	}

	labelMetrics, err := metrics.NewLabelMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create label metrics: %w", err)
	}

	exportMetrics, err := metrics.NewExportMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create export metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Download: downloadMetrics,
		Labels:   labelMetrics,
		Export:   exportMetrics,
		HTTP:     httpMetrics,
	}, nil
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      handlerLogger{logger.Global().Module("metrics")},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// handlerLogger adapts our logger to promhttp.Logger
type handlerLogger struct {
	log logger.Logger
}

func (l handlerLogger) Println(v ...any) {
	l.log.Error(fmt.Sprint(v...))
}
