package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every storage metric name.
const Namespace = "asyncstorage"

// StorageMetrics counts adapter operations by outcome and observes their latency.
// It satisfies asyncstorage.Recorder.
type StorageMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewStorageMetrics creates the storage collectors and registers them on reg.
func NewStorageMetrics(reg prometheus.Registerer) (*StorageMetrics, error) {
	m := &StorageMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "operations_total",
				Help:      "Storage adapter operations by outcome (hit, miss, ok, error).",
			},
			[]string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "operation_duration_seconds",
				Help:      "Storage adapter operation latency in seconds.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation"},
		),
	}
	if reg != nil {
		if err := reg.Register(m.operations); err != nil {
			return nil, err
		}
		if err := reg.Register(m.duration); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNewStorageMetrics is NewStorageMetrics that panics on registration errors.
func MustNewStorageMetrics(reg prometheus.Registerer) *StorageMetrics {
	m, err := NewStorageMetrics(reg)
	if err != nil {
		panic(err)
	}
	return m
}

// ObserveOperation records one completed operation.
func (m *StorageMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
