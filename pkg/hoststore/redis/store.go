// Package redis stores a scope as plain Redis strings named <scope>:<key>.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/asyncstorage/pkg/hoststore"
	"github.com/nimburion/asyncstorage/pkg/observability/logger"
)

const scanBatch = 200

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Config holds Redis connection configuration.
type Config struct {
	URL              string
	MaxConns         int
	OperationTimeout time.Duration
	Scope            string
}

// Store implements hoststore.Store on Redis.
type Store struct {
	client    redisClient
	logger    logger.Logger
	opTimeout time.Duration
	scope     string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("redis URL is required")
	}
	if _, err := parseScope(cfg.Scope); err != nil {
		return nil, err
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	opts.DialTimeout = 5 * time.Second
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	s, err := newStore(client, cfg, log)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.logger.Info("Redis connection established",
		"scope", s.scope,
		"max_conns", cfg.MaxConns,
		"operation_timeout", s.opTimeout,
	)
	return s, nil
}

func newStore(client redisClient, cfg Config, log logger.Logger) (*Store, error) {
	scope, err := parseScope(cfg.Scope)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{client: client, logger: log, opTimeout: timeout, scope: scope}, nil
}

// parseScope trims the scope and applies the default. ':' separates scope
// from key, so a scope containing it would match another scope's keys.
func parseScope(raw string) (string, error) {
	scope := strings.TrimSpace(raw)
	if scope == "" {
		return hoststore.DefaultScope, nil
	}
	if strings.Contains(scope, ":") {
		return "", fmt.Errorf("redis scope %q must not contain ':'", scope)
	}
	return scope, nil
}

// Get fetches a value by key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return value, true, nil
}

// Set stores a value without expiration.
func (s *Store) Set(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Remove deletes a key.
func (s *Store) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear deletes every key of the scope, batch by batch as SCAN returns them.
func (s *Store) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	return s.scan(ctx, func(batch []string) error {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		return nil
	})
}

// Keys lists the keys of the scope without the scope prefix.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var keys []string
	prefix := s.scope + ":"
	err := s.scan(ctx, func(batch []string) error {
		for _, full := range batch {
			keys = append(keys, strings.TrimPrefix(full, prefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// HealthCheck pings Redis.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Error("Redis health check failed", "error", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) scan(ctx context.Context, visit func([]string) error) error {
	match := escapeGlob(s.scope) + ":*"
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(batch) > 0 {
			if err := visit(batch); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *Store) key(key string) string {
	return s.scope + ":" + key
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
