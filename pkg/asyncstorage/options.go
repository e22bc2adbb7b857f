package asyncstorage

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/asyncstorage/pkg/observability/logger"
)

// Operation outcomes passed to a Recorder.
const (
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder observes completed operations. metrics.StorageMetrics implements it.
type Recorder interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets the diagnostics channel. Defaults to a no-op logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Storage) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRecorder sets the operation recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Storage) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithTracer sets the tracer used for operation spans. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Storage) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithSystem names the host backend in spans and log entries (e.g. "redis").
func WithSystem(name string) Option {
	return func(s *Storage) {
		s.system = name
	}
}
