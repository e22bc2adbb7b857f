// Package mongodb keeps a scope in one collection as {_id: key, value: v}
// documents.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nimburion/asyncstorage/pkg/hoststore"
	"github.com/nimburion/asyncstorage/pkg/observability/logger"
)

type collection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	Distinct(ctx context.Context, fieldName string, filter interface{}, opts ...*options.DistinctOptions) ([]interface{}, error)
}

type connection interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
	Disconnect(ctx context.Context) error
}

// Config holds MongoDB store configuration.
type Config struct {
	URL              string
	Database         string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	Scope            string
}

type document struct {
	Key   string `bson:"_id"`
	Value string `bson:"value"`
}

// Store implements hoststore.Store on MongoDB.
type Store struct {
	conn    connection
	coll    collection
	logger  logger.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// New connects, pings the primary and binds the scope collection.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mongodb URL is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongodb database is required")
	}
	name, err := collectionName(cfg.Scope)
	if err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	s := newStore(client, client.Database(cfg.Database).Collection(name), cfg, log)
	s.logger.Info("MongoDB connection established", "database", cfg.Database, "collection", name)
	return s, nil
}

func newStore(conn connection, coll collection, cfg Config, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{conn: conn, coll: coll, logger: log, timeout: timeout}
}

// collectionName maps a scope to its collection. Names MongoDB would reject
// are refused rather than rewritten, so two scopes never share a collection.
func collectionName(scope string) (string, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return hoststore.DefaultScope, nil
	}
	if strings.ContainsAny(scope, "$\x00") || strings.HasPrefix(scope, "system.") {
		return "", fmt.Errorf("mongodb scope %q is not a valid collection name", scope)
	}
	return scope, nil
}

// Get fetches a value by key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.ensureOpen(); err != nil {
		return "", false, err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	var doc document
	err := s.coll.FindOne(opCtx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("mongodb find: %w", err)
	}
	return doc.Value, true, nil
}

// Set upserts the document for key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	_, err := s.coll.ReplaceOne(opCtx, bson.M{"_id": key}, document{Key: key, Value: value},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb upsert: %w", err)
	}
	return nil
}

// Remove deletes the document for key.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	if _, err := s.coll.DeleteOne(opCtx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("mongodb delete: %w", err)
	}
	return nil
}

// Clear deletes every document of the collection.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	res, err := s.coll.DeleteMany(opCtx, bson.D{})
	if err != nil {
		return fmt.Errorf("mongodb clear: %w", err)
	}
	s.logger.Debug("mongodb collection cleared", "deleted", res.DeletedCount)
	return nil
}

// Keys lists the distinct document ids.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	ids, err := s.coll.Distinct(opCtx, "_id", bson.D{})
	if err != nil {
		return nil, fmt.Errorf("mongodb distinct: %w", err)
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if key, ok := id.(string); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// HealthCheck pings the primary within a short timeout.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.conn.Ping(hcCtx, readpref.Primary()); err != nil {
		s.logger.Error("MongoDB health check failed", "error", err)
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

// Close disconnects the client. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.conn.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongodb connection: %w", err)
	}
	return nil
}

func (s *Store) ensureOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return hoststore.ErrClosed
	}
	return nil
}

func (s *Store) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
