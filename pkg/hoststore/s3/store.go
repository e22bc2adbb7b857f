// Package s3 keeps each item as an object named <scope>/<escaped key>.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nimburion/asyncstorage/pkg/hoststore"
	"github.com/nimburion/asyncstorage/pkg/observability/logger"
)

// DeleteObjects accepts at most 1000 keys.
const deleteBatch = 1000

type s3API interface {
	HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *awss3.DeleteObjectsInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// Config defines S3 store configuration.
type Config struct {
	Bucket           string
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	UsePathStyle     bool
	OperationTimeout time.Duration
	Scope            string
}

// Store implements hoststore.Store on an S3 bucket.
type Store struct {
	client  s3API
	logger  logger.Logger
	bucket  string
	prefix  string
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// New creates the client and verifies bucket accessibility.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, errors.New("aws region is required")
	}
	if _, err := parseScope(cfg.Scope); err != nil {
		return nil, err
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

	clientOptions := make([]func(*awss3.Options), 0, 2)
	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		clientOptions = append(clientOptions, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}

	s, err := newStore(awss3.NewFromConfig(awsCfg, clientOptions...), cfg, log)
	if err != nil {
		return nil, err
	}
	if err := s.ping(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("S3 store initialized", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint, "prefix", s.prefix)
	return s, nil
}

func newStore(client s3API, cfg Config, log logger.Logger) (*Store, error) {
	scope, err := parseScope(cfg.Scope)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Store{client: client, logger: log, bucket: cfg.Bucket, prefix: scope + "/", timeout: timeout}, nil
}

// parseScope strips surrounding slashes and applies the default. An inner '/'
// would nest the scope's prefix inside another scope's prefix.
func parseScope(raw string) (string, error) {
	scope := strings.Trim(strings.TrimSpace(raw), "/")
	if scope == "" {
		return hoststore.DefaultScope, nil
	}
	if strings.Contains(scope, "/") {
		return "", fmt.Errorf("s3 scope %q must not contain '/'", scope)
	}
	return scope, nil
}

// Get downloads one object. A missing object is a miss.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.ensureOpen(); err != nil {
		return "", false, err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	resp, err := s.client.GetObject(opCtx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var missing *awss3types.NoSuchKey
		if errors.As(err, &missing) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to download object %q: %w", key, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("failed to read object %q: %w", key, err)
	}
	return string(payload), true, nil
}

// Set uploads one object.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	if _, err := s.client.PutObject(opCtx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        strings.NewReader(value),
		ContentType: aws.String("text/plain; charset=utf-8"),
	}); err != nil {
		return fmt.Errorf("failed to upload object %q: %w", key, err)
	}
	return nil
}

// Remove deletes one object. S3 reports success for missing objects.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	if _, err := s.client.DeleteObject(opCtx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	}); err != nil {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}

// Clear deletes every object under the scope prefix.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	objects, err := s.list(opCtx)
	if err != nil {
		return err
	}
	for start := 0; start < len(objects); start += deleteBatch {
		end := min(start+deleteBatch, len(objects))
		ids := make([]awss3types.ObjectIdentifier, 0, end-start)
		for _, object := range objects[start:end] {
			ids = append(ids, awss3types.ObjectIdentifier{Key: aws.String(object)})
		}
		out, err := s.client.DeleteObjects(opCtx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &awss3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects under %q: %w", s.prefix, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %d objects under %q: %s: %s",
				len(out.Errors), s.prefix, aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

// Keys lists the scope and unescapes object names back to keys.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	objects, err := s.list(opCtx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(objects))
	for _, object := range objects {
		key, err := url.PathUnescape(strings.TrimPrefix(object, s.prefix))
		if err != nil {
			s.logger.Warn("skipping object with undecodable name", "object", object, "error", err)
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// HealthCheck verifies the bucket is reachable within a short timeout.
func (s *Store) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.ping(hcCtx); err != nil {
		s.logger.Error("S3 health check failed", "error", err)
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

// Close marks the store as closed.
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
	if _, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("s3 ping failed: %w", err)
	}
	return nil
}

func (s *Store) list(ctx context.Context) ([]string, error) {
	input := &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}
	var objects []string
	for {
		resp, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %q: %w", s.prefix, err)
		}
		for _, item := range resp.Contents {
			objects = append(objects, aws.ToString(item.Key))
		}
		if !aws.ToBool(resp.IsTruncated) || resp.NextContinuationToken == nil {
			return objects, nil
		}
		input.ContinuationToken = resp.NextContinuationToken
	}
}

func (s *Store) objectKey(key string) string {
	return s.prefix + url.PathEscape(key)
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
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
