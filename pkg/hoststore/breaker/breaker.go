// Package breaker wraps a host store with a circuit breaker so an unreachable
// backend fails fast instead of paying its timeout on every call.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimburion/asyncstorage/pkg/hoststore"
	"github.com/nimburion/asyncstorage/pkg/observability/logger"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed lets every call through
	StateClosed State = iota
	// StateOpen rejects calls without reaching the host
	StateOpen
	// StateHalfOpen lets one trial call decide between closed and open
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned while the circuit is open.
var ErrOpen = errors.New("host store circuit is open")

// Config configures the breaker.
type Config struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// Store is a hoststore.Store guarded by a circuit breaker. ErrUnsupported
// is a capability answer, not an outage, and never trips the circuit.
type Store struct {
	next         hoststore.Store
	logger       logger.Logger
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	lastFailTime time.Time
}

// Wrap guards next. Zero values default to 5 failures and 30s.
func Wrap(next hoststore.Store, cfg Config, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Store{
		next:         next,
		logger:       log,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		now:          time.Now,
		state:        StateClosed,
	}
}

// Get reads through the breaker.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.execute(func() error {
		var err error
		value, found, err = s.next.Get(ctx, key)
		return err
	})
	return value, found, err
}

// Set writes through the breaker.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.execute(func() error { return s.next.Set(ctx, key, value) })
}

// Remove deletes through the breaker.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.execute(func() error { return s.next.Remove(ctx, key) })
}

// Clear empties the scope through the breaker.
func (s *Store) Clear(ctx context.Context) error {
	return s.execute(func() error { return s.next.Clear(ctx) })
}

// Keys lists keys through the breaker.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.execute(func() error {
		var err error
		keys, err = s.next.Keys(ctx)
		return err
	})
	return keys, err
}

// HealthCheck always reaches the host so an operator sees the real status.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.next.HealthCheck(ctx)
}

// Close closes the wrapped store.
func (s *Store) Close() error {
	return s.next.Close()
}

// State returns the current state of the circuit
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) execute(fn func() error) error {
	if !s.allow() {
		return fmt.Errorf("%w (retry after %s)", ErrOpen, s.resetTimeout)
	}
	err := fn()
	if err != nil && !errors.Is(err, hoststore.ErrUnsupported) {
		s.recordFailure(err)
		return err
	}
	s.recordSuccess()
	return err
}

func (s *Store) allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return true
	case StateOpen:
		if s.now().Sub(s.lastFailTime) >= s.resetTimeout {
			s.state = StateHalfOpen
			return true
		}
		return false
	default:
		// one trial call at a time
		return false
	}
}

func (s *Store) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastFailTime = s.now()
	if s.state == StateHalfOpen {
		s.state = StateOpen
		s.logger.Warn("host store circuit reopened", "error", err)
		return
	}
	s.failures++
	if s.state == StateClosed && s.failures >= s.maxFailures {
		s.state = StateOpen
		s.logger.Warn("host store circuit opened", "failures", s.failures, "error", err)
	}
}

func (s *Store) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateHalfOpen:
		s.logger.Info("host store circuit closed")
		s.state = StateClosed
		s.failures = 0
	case StateClosed:
		s.failures = 0
	}
}
