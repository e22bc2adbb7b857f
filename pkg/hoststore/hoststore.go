// Package hoststore defines the contract shared by every synchronous key-value
// backend that asyncstorage can sit on.
package hoststore

import (
	"context"
	"errors"
)

var (
	// ErrUnsupported is returned by backends that cannot perform an operation
	// (e.g. key enumeration on memcached).
	ErrUnsupported = errors.New("operation not supported by host store")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("host store is closed")
)

// Store is a synchronous, persistent string-to-string store. Scope bounds what
// Clear and Keys see, the way a browser origin bounds localStorage.
type Store interface {
	// Get returns found=false and a nil error for a missing key.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Set replaces any existing value.
	Set(ctx context.Context, key, value string) error
	// Remove is a no-op for a missing key.
	Remove(ctx context.Context, key string) error
	// Clear removes every entry in the scope.
	Clear(ctx context.Context) error
	// Keys lists every key in the scope, in no particular order.
	Keys(ctx context.Context) ([]string, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// DefaultScope is used when no scope is configured.
const DefaultScope = "asyncstorage"
