// Package dynamodb keeps items in a DynamoDB table keyed by (scope, item_key).
// The table must exist; it is not created here.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimburion/asyncstorage/pkg/hoststore"
	"github.com/nimburion/asyncstorage/pkg/observability/logger"
)

const (
	attrScope = "scope"
	attrKey   = "item_key"
	attrValue = "item_value"

	// BatchWriteItem accepts at most 25 requests.
	batchSize         = 25
	maxUnprocessedTry = 5
)

type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Config holds DynamoDB store configuration.
type Config struct {
	Table            string
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	OperationTimeout time.Duration
	Scope            string
}

// Store implements hoststore.Store on DynamoDB.
type Store struct {
	client  dynamoAPI
	logger  logger.Logger
	table   string
	scope   string
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// New builds the AWS client and checks that the table is reachable.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, errors.New("aws region is required")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, errors.New("dynamodb table is required")
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	s := newStore(dynamodb.NewFromConfig(awsCfg, opts...), cfg, log)
	if err := s.ping(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("DynamoDB store initialized", "table", cfg.Table, "region", cfg.Region, "endpoint", cfg.Endpoint, "scope", s.scope)
	return s, nil
}

func newStore(client dynamoAPI, cfg Config, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	timeout := cfg.OperationTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	scope := strings.TrimSpace(cfg.Scope)
	if scope == "" {
		scope = hoststore.DefaultScope
	}
	return &Store{client: client, logger: log, table: cfg.Table, scope: scope, timeout: timeout}
}

// Get reads one item with a strongly consistent read.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.ensureOpen(); err != nil {
		return "", false, err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	out, err := s.client.GetItem(opCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.primaryKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("dynamodb get item: %w", err)
	}
	if out.Item == nil {
		return "", false, nil
	}
	value, ok := out.Item[attrValue].(*types.AttributeValueMemberS)
	if !ok {
		return "", false, fmt.Errorf("dynamodb item %q has no string %s attribute", key, attrValue)
	}
	return value.Value, true, nil
}

// Set writes or replaces one item.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	item := s.primaryKey(key)
	item[attrValue] = &types.AttributeValueMemberS{Value: value}
	if _, err := s.client.PutItem(opCtx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamodb put item: %w", err)
	}
	return nil
}

// Remove deletes one item; deleting a missing item succeeds.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	if _, err := s.client.DeleteItem(opCtx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.primaryKey(key),
	}); err != nil {
		return fmt.Errorf("dynamodb delete item: %w", err)
	}
	return nil
}

// Clear deletes every item of the scope in batches.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	keys, err := s.queryKeys(opCtx)
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += batchSize {
		end := min(start+batchSize, len(keys))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: s.primaryKey(key)},
			})
		}
		if err := s.batchDelete(opCtx, requests); err != nil {
			return err
		}
	}
	return nil
}

// Keys lists the keys of the scope.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()
	return s.queryKeys(opCtx)
}

// HealthCheck describes the table within a short timeout.
func (s *Store) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.ping(hcCtx); err != nil {
		s.logger.Error("DynamoDB health check failed", "error", err)
		return fmt.Errorf("dynamodb health check failed: %w", err)
	}
	return nil
}

// Close marks the store closed. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) ping(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()
	if _, err := s.client.DescribeTable(opCtx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}); err != nil {
		return fmt.Errorf("dynamodb ping failed: %w", err)
	}
	return nil
}

func (s *Store) queryKeys(ctx context.Context) ([]string, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ProjectionExpression:   aws.String("#sk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrScope,
			"#sk": attrKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: s.scope},
		},
		ConsistentRead: aws.Bool(true),
	}

	var keys []string
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("dynamodb query: %w", err)
		}
		for _, item := range out.Items {
			if key, ok := item[attrKey].(*types.AttributeValueMemberS); ok {
				keys = append(keys, key.Value)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return keys, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *Store) batchDelete(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.table: requests}
	for attempt := 0; attempt < maxUnprocessedTry; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("dynamodb batch delete: %w", err)
		}
		if len(out.UnprocessedItems[s.table]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
		s.logger.Debug("retrying unprocessed dynamodb deletes", "count", len(pending[s.table]), "attempt", attempt+1)
	}
	return fmt.Errorf("dynamodb batch delete: %d items still unprocessed", len(pending[s.table]))
}

func (s *Store) primaryKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrScope: &types.AttributeValueMemberS{Value: s.scope},
		attrKey:   &types.AttributeValueMemberS{Value: key},
	}
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
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// IsThrottlingError reports whether err is a provisioned throughput error.
func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	var pte *types.ProvisionedThroughputExceededException
	return errors.As(err, &pte)
}
