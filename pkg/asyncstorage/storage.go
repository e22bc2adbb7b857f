package asyncstorage

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/asyncstorage/pkg/observability/logger"
	"github.com/nimburion/asyncstorage/pkg/observability/tracing"
)

// Operation names, matching the mobile API method names.
const (
	OpGetItem    = "getItem"
	OpSetItem    = "setItem"
	OpRemoveItem = "removeItem"
	OpClear      = "clear"
	OpGetAllKeys = "getAllKeys"
)

// HostStore is the synchronous key-value store Storage delegates to.
// Get reports found=false with a nil error for a missing key, and Remove of a
// missing key is not an error.
type HostStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
}

// Item is the result of GetItem. Found is false for a missing key and for a
// swallowed host failure.
type Item struct {
	Key   string
	Value string
	Found bool
}

// Storage forwards async storage calls to a HostStore.
// It holds no data of its own and is safe for concurrent use when the host is.
type Storage struct {
	host     HostStore
	log      logger.Logger
	recorder Recorder
	tracer   trace.Tracer
	system   string
}

// New returns a Storage over host. Construct it once and pass it to the code
// that needs it.
func New(host HostStore, opts ...Option) *Storage {
	s := &Storage{
		host:     host,
		log:      logger.NewNop(),
		recorder: nopRecorder{},
		tracer:   tracing.DefaultTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetItem reads key. Host failures are logged and reported as a miss; the
// returned handle never carries an error.
func (s *Storage) GetItem(ctx context.Context, key string) *Pending[Item] {
	ctx, span := s.startSpan(ctx, OpGetItem, key)
	defer span.End()
	start := time.Now()

	value, found, err := s.host.Get(ctx, key)
	if err != nil {
		s.diagnose(ctx, span, OpGetItem, key, err)
		s.recorder.ObserveOperation(OpGetItem, OutcomeError, time.Since(start))
		return settled(Item{Key: key}, nil)
	}

	outcome := OutcomeMiss
	if found {
		outcome = OutcomeHit
	} else {
		value = ""
	}
	s.recorder.ObserveOperation(OpGetItem, outcome, time.Since(start))
	tracing.RecordSuccess(span)
	return settled(Item{Key: key, Value: value, Found: found}, nil)
}

// SetItem stores value under key, replacing any previous value.
func (s *Storage) SetItem(ctx context.Context, key, value string) *Pending[struct{}] {
	ctx, span := s.startSpan(ctx, OpSetItem, key)
	defer span.End()
	start := time.Now()

	err := s.host.Set(ctx, key, value)
	return settled(struct{}{}, s.finish(ctx, span, OpSetItem, key, start, err))
}

// RemoveItem deletes key. Removing a missing key succeeds.
func (s *Storage) RemoveItem(ctx context.Context, key string) *Pending[struct{}] {
	ctx, span := s.startSpan(ctx, OpRemoveItem, key)
	defer span.End()
	start := time.Now()

	err := s.host.Remove(ctx, key)
	return settled(struct{}{}, s.finish(ctx, span, OpRemoveItem, key, start, err))
}

// Clear deletes every entry visible to the host store.
func (s *Storage) Clear(ctx context.Context) *Pending[struct{}] {
	ctx, span := s.startSpan(ctx, OpClear, "")
	defer span.End()
	start := time.Now()

	err := s.host.Clear(ctx)
	return settled(struct{}{}, s.finish(ctx, span, OpClear, "", start, err))
}

// GetAllKeys lists every stored key in ascending order.
func (s *Storage) GetAllKeys(ctx context.Context) *Pending[[]string] {
	ctx, span := s.startSpan(ctx, OpGetAllKeys, "")
	defer span.End()
	start := time.Now()

	keys, err := s.host.Keys(ctx)
	if err = s.finish(ctx, span, OpGetAllKeys, "", start, err); err != nil {
		return settled[[]string](nil, err)
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return settled(sorted, nil)
}

func (s *Storage) finish(ctx context.Context, span trace.Span, op, key string, start time.Time, err error) error {
	if err != nil {
		s.diagnose(ctx, span, op, key, err)
		s.recorder.ObserveOperation(op, OutcomeError, time.Since(start))
		return &OpError{Op: op, Key: key, Err: err}
	}
	s.recorder.ObserveOperation(op, OutcomeOK, time.Since(start))
	tracing.RecordSuccess(span)
	return nil
}

// diagnose emits the non-fatal warning for a host failure.
func (s *Storage) diagnose(ctx context.Context, span trace.Span, op, key string, err error) {
	tracing.RecordError(span, err)
	fields := []any{"error", err}
	if key != "" {
		fields = append(fields, "key", key)
	}
	if s.system != "" {
		fields = append(fields, "backend", s.system)
	}
	s.log.WithContext(ctx).Warn("AsyncStorage."+op+" error", fields...)
}

func (s *Storage) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	opts := []tracing.StorageSpanOption{tracing.WithStorageSystem(s.system)}
	if key != "" {
		opts = append(opts, tracing.WithStorageKey(key))
	}
	return tracing.StartStorageSpan(ctx, s.tracer, op, opts...)
}
