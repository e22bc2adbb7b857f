// Package tracing provides OpenTelemetry tracing for storage operations.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer scope used for storage spans.
const InstrumentationName = "github.com/nimburion/asyncstorage"

// DefaultTracer returns the tracer for storage spans from the global provider.
func DefaultTracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StorageSpanOption configures a storage span.
type StorageSpanOption func(*storageSpanOptions)

type storageSpanOptions struct {
	attributes []attribute.KeyValue
}

// WithStorageKey sets the item key the operation targets.
func WithStorageKey(key string) StorageSpanOption {
	return func(opts *storageSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("storage.key", key))
	}
}

// WithStorageSystem sets the host store backend name (e.g. "redis", "file").
func WithStorageSystem(system string) StorageSpanOption {
	return func(opts *storageSpanOptions) {
		if system == "" {
			return
		}
		opts.attributes = append(opts.attributes, attribute.String("storage.system", system))
	}
}

// StartStorageSpan starts a client span named "AsyncStorage.<operation>".
// A nil tracer falls back to DefaultTracer.
func StartStorageSpan(ctx context.Context, tracer trace.Tracer, operation string, opts ...StorageSpanOption) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = DefaultTracer()
	}

	spanOpts := &storageSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("storage.operation", operation),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	ctx, span := tracer.Start(ctx, fmt.Sprintf("AsyncStorage.%s", operation), trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// RecordError records err on the span and marks it failed. Nil errors are ignored.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
