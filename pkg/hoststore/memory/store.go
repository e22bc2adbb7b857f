// Package memory is an in-process host store for tests and ephemeral use.
package memory

import (
	"context"
	"sync"

	"github.com/nimburion/asyncstorage/pkg/hoststore"
)

// Store keeps items in a map. Data does not survive the process.
type Store struct {
	mu     sync.RWMutex
	items  map[string]string
	closed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{items: map[string]string{}}
}

// Get fetches a value by key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, hoststore.ErrClosed
	}
	value, ok := s.items[key]
	return value, ok, nil
}

// Set stores a value.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return hoststore.ErrClosed
	}
	s.items[key] = value
	return nil
}

// Remove deletes a key.
func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return hoststore.ErrClosed
	}
	delete(s.items, key)
	return nil
}

// Clear drops every item.
func (s *Store) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return hoststore.ErrClosed
	}
	s.items = map[string]string{}
	return nil
}

// Keys lists stored keys.
func (s *Store) Keys(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, hoststore.ErrClosed
	}
	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	return keys, nil
}

// HealthCheck fails only after Close.
func (s *Store) HealthCheck(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return hoststore.ErrClosed
	}
	return nil
}

// Close discards the data. Further calls fail with hoststore.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.items = nil
	s.mu.Unlock()
	return nil
}
