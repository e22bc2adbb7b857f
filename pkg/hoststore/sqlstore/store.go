// Package sqlstore keeps a scope in one table of a relational database.
// PostgreSQL, MySQL and SQLite are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver

	"github.com/nimburion/asyncstorage/pkg/observability/logger"
)

// ErrKeyTooLong is returned by Set when the key exceeds the dialect's
// MaxKeyLength.
var ErrKeyTooLong = errors.New("key exceeds the column width")

// Config holds connection and pool settings.
type Config struct {
	Dialect         Dialect
	DSN             string
	Table           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// Store implements hoststore.Store on database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
	q       queries
	logger  logger.Logger
	timeout time.Duration
}

// New opens the database, verifies the connection and creates the table.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("database DSN is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	db, err := sql.Open(cfg.Dialect.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Dialect == SQLite {
		// one writer at a time avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s, err := NewWithDB(db, cfg.Dialect, cfg.Table, cfg.QueryTimeout, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info("sql store connection established",
		"dialect", cfg.Dialect,
		"table", s.table,
		"max_open_conns", cfg.MaxOpenConns,
	)
	return s, nil
}

// NewWithDB wraps an already opened handle. The schema is not touched.
func NewWithDB(db *sql.DB, dialect Dialect, table string, queryTimeout time.Duration, log logger.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if table == "" {
		table = "asyncstorage"
	}
	if err := validateTable(table); err != nil {
		return nil, err
	}
	return &Store{
		db:      db,
		dialect: dialect,
		table:   table,
		q:       dialect.queries(table),
		logger:  log,
		timeout: queryTimeout,
	}, nil
}

// EnsureSchema creates the backing table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, s.q.createTable); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Get fetches a value by key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, s.q.get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select item: %w", err)
	}
	return value, true, nil
}

// Set inserts or replaces a value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if limit := s.dialect.MaxKeyLength(); limit > 0 && utf8.RuneCountInString(key) > limit {
		return fmt.Errorf("%w: %d characters, %s allows %d", ErrKeyTooLong, utf8.RuneCountInString(key), s.dialect, limit)
	}
	ctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, s.q.upsert, key, value); err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// Remove deletes a key; zero affected rows is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	ctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, s.q.remove, key); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// Clear deletes every row of the table.
func (s *Store) Clear(ctx context.Context) error {
	ctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, s.q.clear); err != nil {
		return fmt.Errorf("clear table %s: %w", s.table, err)
	}
	return nil
}

// Keys lists all keys of the table.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.q.keys)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// HealthCheck pings the database with a short timeout.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("sql store health check failed", "dialect", s.dialect, "error", err)
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("failed to close sql store", "error", err)
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

func (s *Store) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
