// Package file persists a scope as a single JSON object on disk, the way a
// browser profile keeps localStorage across restarts.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"

	"github.com/nimburion/asyncstorage/pkg/hoststore"
	"github.com/nimburion/asyncstorage/pkg/observability/logger"
)

// Store caches the file contents in memory and rewrites the file atomically
// on every mutation. Other processes writing the same file are not observed.
type Store struct {
	path   string
	logger logger.Logger

	mu     sync.RWMutex
	items  map[string]string
	closed bool
}

// DefaultPath returns the XDG data location for a scope,
// e.g. ~/.local/share/asyncstorage/<scope>.json.
func DefaultPath(scope string) (string, error) {
	if strings.TrimSpace(scope) == "" {
		scope = hoststore.DefaultScope
	}
	path, err := xdg.DataFile(filepath.Join("asyncstorage", scope+".json"))
	if err != nil {
		return "", fmt.Errorf("resolve data file for scope %s: %w", scope, err)
	}
	return path, nil
}

// New opens (or creates) the store at path.
func New(path string, log logger.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("file store path is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	items, err := load(path)
	if err != nil {
		return nil, err
	}

	log.Debug("file store opened", "path", path, "items", len(items))
	return &Store{path: path, logger: log, items: items}, nil
}

func load(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	items := map[string]string{}
	if len(raw) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode store file %s: %w", path, err)
	}
	return items, nil
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

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

// Set stores a value and persists the scope.
func (s *Store) Set(_ context.Context, key, value string) error {
	return s.mutate(func(items map[string]string) { items[key] = value })
}

// Remove deletes a key and persists the scope.
func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.RLock()
	_, present := s.items[key]
	closed := s.closed
	s.mu.RUnlock()
	if !closed && !present {
		return nil
	}
	return s.mutate(func(items map[string]string) { delete(items, key) })
}

// Clear empties the scope.
func (s *Store) Clear(context.Context) error {
	return s.mutate(func(items map[string]string) { clear(items) })
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

// HealthCheck verifies the directory is still writable.
func (s *Store) HealthCheck(context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return hoststore.ErrClosed
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".healthcheck-*")
	if err != nil {
		return fmt.Errorf("file store health check failed: %w", err)
	}
	name := tmp.Name()
	_ = tmp.Close()
	return os.Remove(name)
}

// Close releases the cache. The file stays on disk.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.items = nil
	s.mu.Unlock()
	return nil
}

// mutate applies change to a copy, writes it, and only then swaps it in, so a
// failed write leaves the previous state visible.
func (s *Store) mutate(change func(map[string]string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return hoststore.ErrClosed
	}

	next := make(map[string]string, len(s.items)+1)
	for k, v := range s.items {
		next[k] = v
	}
	change(next)

	if err := s.write(next); err != nil {
		s.logger.Error("file store write failed", "path", s.path, "error", err)
		return err
	}
	s.items = next
	return nil
}

func (s *Store) write(items map[string]string) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
