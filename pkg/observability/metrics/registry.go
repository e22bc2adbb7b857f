// Package metrics provides Prometheus instrumentation for storage operations.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Registry owns a private Prometheus registry holding only the storage
// metrics.
type Registry struct {
	registry *prometheus.Registry
	storage  *StorageMetrics
}

// NewRegistry creates a registry with the storage metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	return &Registry{
		registry: reg,
		storage:  MustNewStorageMetrics(reg),
	}
}

// Storage returns the storage operation metrics bound to this registry.
func (r *Registry) Storage() *StorageMetrics {
	return r.storage
}

// WriteText writes every gathered family to w in the Prometheus text format.
func (r *Registry) WriteText(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return fmt.Errorf("encode metric %s: %w", family.GetName(), err)
		}
	}
	return nil
}
