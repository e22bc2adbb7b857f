// Package memcached keeps a scope on memcached servers over the text
// protocol. Memcached cannot enumerate keys, so Keys reports
// hoststore.ErrUnsupported. Clear bumps a per-scope generation number that is
// part of every item key, which orphans the old items without touching other
// scopes sharing the servers.
package memcached

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nimburion/asyncstorage/pkg/hoststore"
	"github.com/nimburion/asyncstorage/pkg/observability/logger"
)

const maxKeyLength = 250

var errNotFound = errors.New("not found")

// Config holds memcached connection settings.
type Config struct {
	Addresses []string
	Timeout   time.Duration
	Scope     string
}

// Store implements hoststore.Store over short-lived TCP connections.
type Store struct {
	addresses []string
	timeout   time.Duration
	scope     string
	logger    logger.Logger
	dial      func(ctx context.Context, network, address string) (net.Conn, error)
	now       func() time.Time
}

// New validates the addresses. No connection is opened until the first call.
func New(cfg Config, log logger.Logger) (*Store, error) {
	normalized := make([]string, 0, len(cfg.Addresses))
	for _, addr := range cfg.Addresses {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	if len(normalized) == 0 {
		return nil, errors.New("at least one memcached address is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	scope := strings.TrimSpace(cfg.Scope)
	if scope == "" {
		scope = hoststore.DefaultScope
	}
	if strings.ContainsAny(scope, " \t\r\n") {
		return nil, fmt.Errorf("memcached scope %q must not contain whitespace", scope)
	}
	if strings.Contains(scope, ":") {
		return nil, fmt.Errorf("memcached scope %q must not contain ':'", scope)
	}
	return &Store{
		addresses: normalized,
		timeout:   timeout,
		scope:     scope,
		logger:    log,
		dial:      (&net.Dialer{Timeout: timeout}).DialContext,
		now:       time.Now,
	}, nil
}

// Get fetches a value by key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	itemKey, err := s.itemKey(ctx, key)
	if err != nil {
		return "", false, err
	}
	value, err := s.get(ctx, itemKey)
	if errors.Is(err, errNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(value), true, nil
}

// Set stores a value without expiration.
func (s *Store) Set(ctx context.Context, key, value string) error {
	itemKey, err := s.itemKey(ctx, key)
	if err != nil {
		return err
	}
	return s.store(ctx, "set", itemKey, []byte(value))
}

// Remove deletes a key. NOT_FOUND is treated as success.
func (s *Store) Remove(ctx context.Context, key string) error {
	itemKey, err := s.itemKey(ctx, key)
	if err != nil {
		return err
	}
	line, err := s.roundTrip(ctx, itemKey, fmt.Sprintf("delete %s\r\n", itemKey))
	if err != nil {
		return err
	}
	switch line {
	case "DELETED", "NOT_FOUND":
		return nil
	default:
		return fmt.Errorf("unexpected memcached delete response: %s", line)
	}
}

// Clear starts a new generation for the scope.
func (s *Store) Clear(ctx context.Context) error {
	next := strconv.FormatInt(s.now().UnixNano(), 10)
	if err := s.store(ctx, "set", s.generationKey(), []byte(next)); err != nil {
		return fmt.Errorf("memcached clear: %w", err)
	}
	s.logger.Debug("memcached scope cleared", "scope", s.scope, "generation", next)
	return nil
}

// Keys is not supported by memcached.
func (s *Store) Keys(context.Context) ([]string, error) {
	return nil, fmt.Errorf("memcached keys: %w", hoststore.ErrUnsupported)
}

// HealthCheck asks every server for its version.
func (s *Store) HealthCheck(ctx context.Context) error {
	for _, addr := range s.addresses {
		conn, err := s.connectTo(ctx, addr)
		if err != nil {
			return fmt.Errorf("memcached health check failed for %s: %w", addr, err)
		}
		line, err := exchange(conn, "version\r\n")
		_ = conn.Close()
		if err != nil {
			return fmt.Errorf("memcached health check failed for %s: %w", addr, err)
		}
		if !strings.HasPrefix(line, "VERSION") {
			return fmt.Errorf("memcached health check failed for %s: %s", addr, line)
		}
	}
	return nil
}

// Close is a no-op: every operation uses its own connection.
func (s *Store) Close() error {
	return nil
}

// itemKey resolves the current generation and builds the wire key. User keys
// are base64 encoded since memcached keys cannot contain spaces or control
// characters.
func (s *Store) itemKey(ctx context.Context, key string) (string, error) {
	generation, err := s.generation(ctx)
	if err != nil {
		return "", err
	}
	itemKey := s.scope + ":" + generation + ":" + base64.RawURLEncoding.EncodeToString([]byte(key))
	if len(itemKey) > maxKeyLength {
		return "", fmt.Errorf("memcached key for %q exceeds %d bytes", key, maxKeyLength)
	}
	return itemKey, nil
}

// generation reads the scope generation, creating it with "add" when missing.
// A lost race on "add" means another client created it first.
func (s *Store) generation(ctx context.Context) (string, error) {
	genKey := s.generationKey()
	for attempt := 0; attempt < 2; attempt++ {
		value, err := s.get(ctx, genKey)
		if err == nil {
			return string(value), nil
		}
		if !errors.Is(err, errNotFound) {
			return "", fmt.Errorf("memcached generation: %w", err)
		}
		initial := strconv.FormatInt(s.now().UnixNano(), 10)
		err = s.store(ctx, "add", genKey, []byte(initial))
		if err == nil {
			return initial, nil
		}
		if !errors.Is(err, errNotStored) {
			return "", fmt.Errorf("memcached generation: %w", err)
		}
	}
	return "", errors.New("memcached generation: could not initialize")
}

func (s *Store) generationKey() string {
	return s.scope + ":generation"
}

var errNotStored = errors.New("not stored")

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	conn, err := s.connect(ctx, key)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	if _, err := io.WriteString(conn, fmt.Sprintf("get %s\r\n", key)); err != nil {
		return nil, err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSpace(line)
	if line == "END" {
		return nil, errNotFound
	}
	// VALUE <key> <flags> <bytes>
	parts := strings.Fields(line)
	if len(parts) != 4 || parts[0] != "VALUE" {
		return nil, fmt.Errorf("unexpected memcached response: %s", line)
	}
	size, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, fmt.Errorf("invalid memcached size: %w", err)
	}
	payload := make([]byte, size+2)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, err
	}
	endLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(endLine) != "END" {
		return nil, fmt.Errorf("unexpected memcached terminator: %s", strings.TrimSpace(endLine))
	}
	return payload[:size], nil
}

func (s *Store) store(ctx context.Context, verb, key string, value []byte) error {
	cmd := fmt.Sprintf("%s %s 0 0 %d\r\n%s\r\n", verb, key, len(value), value)
	line, err := s.roundTrip(ctx, key, cmd)
	if err != nil {
		return err
	}
	switch line {
	case "STORED":
		return nil
	case "NOT_STORED":
		return errNotStored
	default:
		return fmt.Errorf("memcached %s failed: %s", verb, line)
	}
}

func (s *Store) roundTrip(ctx context.Context, key, cmd string) (string, error) {
	conn, err := s.connect(ctx, key)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return exchange(conn, cmd)
}

// exchange writes one command and reads a single status line.
func exchange(conn net.Conn, cmd string) (string, error) {
	if _, err := io.WriteString(conn, cmd); err != nil {
		return "", err
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (s *Store) connect(ctx context.Context, key string) (net.Conn, error) {
	return s.connectTo(ctx, s.pickAddress(key))
}

func (s *Store) connectTo(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := s.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(s.timeout)
	if fromCtx, ok := ctx.Deadline(); ok && fromCtx.Before(deadline) {
		deadline = fromCtx
	}
	_ = conn.SetDeadline(deadline)
	return conn, nil
}

func (s *Store) pickAddress(key string) string {
	if len(s.addresses) == 1 {
		return s.addresses[0]
	}
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(key))
	return s.addresses[int(hash.Sum32()%uint32(len(s.addresses)))]
}
