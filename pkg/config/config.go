package config

import "time"

// Storage backend names accepted in storage.backend.
const (
	BackendMemory       = "memory"
	BackendFile         = "file"
	BackendSQLite       = "sqlite"
	BackendPostgres     = "postgres"
	BackendMySQL        = "mysql"
	BackendRedis        = "redis"
	BackendMemcached    = "memcached"
	BackendDynamoDB     = "dynamodb"
	BackendS3           = "s3"
	BackendMongoDB      = "mongodb"
	BackendLocalStorage = "localstorage"
)

// Backends lists every supported storage.backend value.
var Backends = []string{
	BackendMemory, BackendFile, BackendSQLite, BackendPostgres, BackendMySQL,
	BackendRedis, BackendMemcached, BackendDynamoDB, BackendS3, BackendMongoDB,
	BackendLocalStorage,
}

// Config is the root configuration structure.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service" yaml:"service"`
	Storage       StorageConfig       `mapstructure:"storage" yaml:"storage"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// StorageConfig selects the host store and holds the settings of every
// backend. Only the section matching Backend is read.
type StorageConfig struct {
	Backend          string        `mapstructure:"backend" yaml:"backend"`
	Scope            string        `mapstructure:"scope" yaml:"scope"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`

	File      FileConfig      `mapstructure:"file" yaml:"file"`
	SQL       SQLConfig       `mapstructure:"sql" yaml:"sql"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Memcached MemcachedConfig `mapstructure:"memcached" yaml:"memcached"`
	DynamoDB  DynamoDBConfig  `mapstructure:"dynamodb" yaml:"dynamodb"`
	S3        S3Config        `mapstructure:"s3" yaml:"s3"`
	MongoDB   MongoDBConfig   `mapstructure:"mongodb" yaml:"mongodb"`

	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
}

// CircuitBreakerConfig guards remote backends. After MaxFailures consecutive
// host failures calls fail fast until ResetTimeout has passed.
type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxFailures  int           `mapstructure:"max_failures" yaml:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
}

// FileConfig configures the JSON file store. An empty path means the XDG
// data directory.
type FileConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SQLConfig configures the sqlite, postgres and mysql backends. An empty DSN
// with sqlite means a database file in the XDG data directory.
type SQLConfig struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn" secret:"true"`
	Table           string        `mapstructure:"table" yaml:"table"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	URL      string `mapstructure:"url" yaml:"url" secret:"true"`
	MaxConns int    `mapstructure:"max_conns" yaml:"max_conns"`
}

// MemcachedConfig configures the memcached backend.
type MemcachedConfig struct {
	Addresses []string      `mapstructure:"addresses" yaml:"addresses"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AWSConfig holds the credentials shared by the AWS backends. Empty keys
// fall back to the default credential chain.
type AWSConfig struct {
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key" secret:"true"`
	SessionToken    string `mapstructure:"session_token" yaml:"session_token" secret:"true"`
}

// DynamoDBConfig configures the DynamoDB backend.
type DynamoDBConfig struct {
	AWSConfig `mapstructure:",squash" yaml:",inline"`
	Table     string `mapstructure:"table" yaml:"table"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	AWSConfig    `mapstructure:",squash" yaml:",inline"`
	Bucket       string `mapstructure:"bucket" yaml:"bucket"`
	UsePathStyle bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
}

// MongoDBConfig configures the MongoDB backend.
type MongoDBConfig struct {
	URL            string        `mapstructure:"url" yaml:"url" secret:"true"`
	Database       string        `mapstructure:"database" yaml:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string  `mapstructure:"log_format" yaml:"log_format"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint" yaml:"tracing_endpoint"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate" yaml:"tracing_sample_rate"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "asyncstorage",
			Environment: "development",
		},
		Storage: StorageConfig{
			Backend:          BackendFile,
			Scope:            "asyncstorage",
			OperationTimeout: 5 * time.Second,
			SQL: SQLConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Redis: RedisConfig{
				MaxConns: 10,
			},
			Memcached: MemcachedConfig{
				Timeout: 500 * time.Millisecond,
			},
			MongoDB: MongoDBConfig{
				ConnectTimeout: 5 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures:  5,
				ResetTimeout: 30 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:          "warn",
			LogFormat:         "text",
			TracingEnabled:    false,
			TracingEndpoint:   "localhost:4317",
			TracingSampleRate: 1.0,
		},
	}
}
