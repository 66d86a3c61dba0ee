package metrics

import "github.com/prometheus/client_golang/prometheus"

// LabelMetrics counts annotation store operations
type LabelMetrics struct {
	operationsTotal *prometheus.CounterVec
}

// NewLabelMetrics creates and registers the label store collectors
func NewLabelMetrics(registry *prometheus.Registry) (*LabelMetrics, error) {
	m := &LabelMetrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labels_operations_total",
				Help: "Total number of label store operations by outcome",
			},
			[]string{"operation", "status"}, // status: ok, conflict, not_found, invalid, error
		),
	}
	if err := registry.Register(m.operationsTotal); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordLabelOperation implements labels.OperationRecorder
func (m *LabelMetrics) RecordLabelOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}
