// Package factory opens the host store selected by storage.backend.
package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/adrg/xdg"

	"github.com/nimburion/asyncstorage/pkg/config"
	"github.com/nimburion/asyncstorage/pkg/hoststore"
	"github.com/nimburion/asyncstorage/pkg/hoststore/breaker"
	"github.com/nimburion/asyncstorage/pkg/hoststore/dynamodb"
	"github.com/nimburion/asyncstorage/pkg/hoststore/file"
	"github.com/nimburion/asyncstorage/pkg/hoststore/memcached"
	"github.com/nimburion/asyncstorage/pkg/hoststore/memory"
	"github.com/nimburion/asyncstorage/pkg/hoststore/mongodb"
	"github.com/nimburion/asyncstorage/pkg/hoststore/redis"
	"github.com/nimburion/asyncstorage/pkg/hoststore/s3"
	"github.com/nimburion/asyncstorage/pkg/hoststore/sqlstore"
	"github.com/nimburion/asyncstorage/pkg/observability/logger"
)

// DefaultSQLitePath returns the database file used by the sqlite backend when
// no DSN is configured.
func DefaultSQLitePath() (string, error) {
	path, err := xdg.DataFile("asyncstorage/asyncstorage.db")
	if err != nil {
		return "", fmt.Errorf("failed to resolve sqlite path: %w", err)
	}
	return path, nil
}

// New opens the host store named by cfg.Backend, behind a circuit breaker
// when one is enabled. The caller owns the returned store and must Close it.
func New(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (hoststore.Store, error) {
	if log == nil {
		log = logger.NewNop()
	}
	store, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if cb := cfg.CircuitBreaker; cb.Enabled {
		return breaker.Wrap(store, breaker.Config{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
		}, log), nil
	}
	return store, nil
}

func newStore(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (hoststore.Store, error) {
	scope := strings.TrimSpace(cfg.Scope)
	if scope == "" {
		scope = hoststore.DefaultScope
	}

	switch backend := strings.ToLower(strings.TrimSpace(cfg.Backend)); backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendFile:
		path := cfg.File.Path
		if path == "" {
			var err error
			if path, err = file.DefaultPath(scope); err != nil {
				return nil, err
			}
		}
		return open(file.New(path, log))
	case config.BackendSQLite, config.BackendPostgres, config.BackendMySQL:
		return newSQLStore(ctx, backend, scope, cfg, log)
	case config.BackendRedis:
		return open(redis.New(ctx, redis.Config{
			URL:              cfg.Redis.URL,
			MaxConns:         cfg.Redis.MaxConns,
			OperationTimeout: cfg.OperationTimeout,
			Scope:            scope,
		}, log))
	case config.BackendMemcached:
		return open(memcached.New(memcached.Config{
			Addresses: cfg.Memcached.Addresses,
			Timeout:   cfg.Memcached.Timeout,
			Scope:     scope,
		}, log))
	case config.BackendDynamoDB:
		return open(dynamodb.New(ctx, dynamodb.Config{
			Table:            cfg.DynamoDB.Table,
			Region:           cfg.DynamoDB.Region,
			Endpoint:         cfg.DynamoDB.Endpoint,
			AccessKeyID:      cfg.DynamoDB.AccessKeyID,
			SecretAccessKey:  cfg.DynamoDB.SecretAccessKey,
			SessionToken:     cfg.DynamoDB.SessionToken,
			OperationTimeout: cfg.OperationTimeout,
			Scope:            scope,
		}, log))
	case config.BackendS3:
		return open(s3.New(ctx, s3.Config{
			Bucket:           cfg.S3.Bucket,
			Region:           cfg.S3.Region,
			Endpoint:         cfg.S3.Endpoint,
			AccessKeyID:      cfg.S3.AccessKeyID,
			SecretAccessKey:  cfg.S3.SecretAccessKey,
			SessionToken:     cfg.S3.SessionToken,
			UsePathStyle:     cfg.S3.UsePathStyle,
			OperationTimeout: cfg.OperationTimeout,
			Scope:            scope,
		}, log))
	case config.BackendMongoDB:
		return open(mongodb.New(ctx, mongodb.Config{
			URL:              cfg.MongoDB.URL,
			Database:         cfg.MongoDB.Database,
			ConnectTimeout:   cfg.MongoDB.ConnectTimeout,
			OperationTimeout: cfg.OperationTimeout,
			Scope:            scope,
		}, log))
	case config.BackendLocalStorage:
		return newLocalStorage()
	default:
		return nil, fmt.Errorf("unsupported storage.backend %q (supported: %s)", cfg.Backend, strings.Join(config.Backends, ", "))
	}
}

func newSQLStore(ctx context.Context, backend, scope string, cfg config.StorageConfig, log logger.Logger) (hoststore.Store, error) {
	dialect, err := sqlstore.ParseDialect(backend)
	if err != nil {
		return nil, err
	}

	dsn := cfg.SQL.DSN
	if dsn == "" && dialect == sqlstore.SQLite {
		if dsn, err = DefaultSQLitePath(); err != nil {
			return nil, err
		}
	}
	table := cfg.SQL.Table
	if table == "" {
		if table, err = sqlstore.TableName(scope); err != nil {
			return nil, fmt.Errorf("%w; set storage.sql.table to pick the table explicitly", err)
		}
	}

	return open(sqlstore.New(ctx, sqlstore.Config{
		Dialect:         dialect,
		DSN:             dsn,
		Table:           table,
		MaxOpenConns:    cfg.SQL.MaxOpenConns,
		MaxIdleConns:    cfg.SQL.MaxIdleConns,
		ConnMaxLifetime: cfg.SQL.ConnMaxLifetime,
		QueryTimeout:    cfg.OperationTimeout,
	}, log))
}

// open drops the typed nil a failed constructor returns alongside its error.
func open[S hoststore.Store](store S, err error) (hoststore.Store, error) {
	if err != nil {
		return nil, err
	}
	return store, nil
}
