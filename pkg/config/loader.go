package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/nimburion/asyncstorage/pkg/observability/logger"
)

// DefaultEnvPrefix prefixes every environment variable, e.g.
// ASYNCSTORAGE_STORAGE_BACKEND.
const DefaultEnvPrefix = "ASYNCSTORAGE"

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (defaults to ASYNCSTORAGE)
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	cfg, _, err := l.load(false)
	return cfg, err
}

// LoadWithSecrets loads configuration with separate secrets file support.
// Precedence: ENV > secrets file > config file > defaults
//
// The returned secrets Config holds only what the secrets file set and is
// meant for masking (see Config.Settings).
func (l *ViperLoader) LoadWithSecrets() (*Config, *Config, error) {
	return l.load(true)
}

func (l *ViperLoader) load(withSecrets bool) (*Config, *Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			// Only an explicitly requested file is an error
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	var secrets *Config
	if withSecrets {
		var err error
		secrets, err = l.mergeSecrets(v)
		if err != nil {
			return nil, nil, err
		}
	}

	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, secrets, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	bind := func(key string) {
		_ = v.BindEnv(key, l.prefixedEnv(strings.ToUpper(strings.ReplaceAll(key, ".", "_"))))
	}

	bind("service.name")
	bind("service.environment")

	bind("storage.backend")
	bind("storage.scope")
	bind("storage.operation_timeout")

	bind("storage.file.path")

	bind("storage.sql.dsn")
	bind("storage.sql.table")
	bind("storage.sql.max_open_conns")
	bind("storage.sql.max_idle_conns")
	bind("storage.sql.conn_max_lifetime")

	bind("storage.redis.url")
	bind("storage.redis.max_conns")

	bind("storage.memcached.addresses")
	bind("storage.memcached.timeout")

	for _, section := range []string{"storage.dynamodb", "storage.s3"} {
		bind(section + ".region")
		bind(section + ".endpoint")
		bind(section + ".access_key_id")
		bind(section + ".secret_access_key")
		bind(section + ".session_token")
	}
	bind("storage.dynamodb.table")
	bind("storage.s3.bucket")
	bind("storage.s3.use_path_style")

	bind("storage.mongodb.url")
	bind("storage.mongodb.database")
	bind("storage.mongodb.connect_timeout")

	bind("storage.circuit_breaker.enabled")
	bind("storage.circuit_breaker.max_failures")
	bind("storage.circuit_breaker.reset_timeout")

	bind("observability.log_level")
	bind("observability.log_format")
	bind("observability.tracing_enabled")
	bind("observability.tracing_endpoint")
	bind("observability.tracing_sample_rate")
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.scope", cfg.Storage.Scope)
	v.SetDefault("storage.operation_timeout", cfg.Storage.OperationTimeout)
	v.SetDefault("storage.file.path", cfg.Storage.File.Path)

	v.SetDefault("storage.sql.dsn", cfg.Storage.SQL.DSN)
	v.SetDefault("storage.sql.table", cfg.Storage.SQL.Table)
	v.SetDefault("storage.sql.max_open_conns", cfg.Storage.SQL.MaxOpenConns)
	v.SetDefault("storage.sql.max_idle_conns", cfg.Storage.SQL.MaxIdleConns)
	v.SetDefault("storage.sql.conn_max_lifetime", cfg.Storage.SQL.ConnMaxLifetime)

	v.SetDefault("storage.redis.url", cfg.Storage.Redis.URL)
	v.SetDefault("storage.redis.max_conns", cfg.Storage.Redis.MaxConns)

	v.SetDefault("storage.memcached.addresses", cfg.Storage.Memcached.Addresses)
	v.SetDefault("storage.memcached.timeout", cfg.Storage.Memcached.Timeout)

	v.SetDefault("storage.dynamodb.table", cfg.Storage.DynamoDB.Table)
	v.SetDefault("storage.dynamodb.region", cfg.Storage.DynamoDB.Region)
	v.SetDefault("storage.s3.bucket", cfg.Storage.S3.Bucket)
	v.SetDefault("storage.s3.region", cfg.Storage.S3.Region)
	v.SetDefault("storage.s3.use_path_style", cfg.Storage.S3.UsePathStyle)

	v.SetDefault("storage.mongodb.url", cfg.Storage.MongoDB.URL)
	v.SetDefault("storage.mongodb.database", cfg.Storage.MongoDB.Database)
	v.SetDefault("storage.mongodb.connect_timeout", cfg.Storage.MongoDB.ConnectTimeout)

	v.SetDefault("storage.circuit_breaker.enabled", cfg.Storage.CircuitBreaker.Enabled)
	v.SetDefault("storage.circuit_breaker.max_failures", cfg.Storage.CircuitBreaker.MaxFailures)
	v.SetDefault("storage.circuit_breaker.reset_timeout", cfg.Storage.CircuitBreaker.ResetTimeout)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
}

// Validate validates the configuration and returns every problem found,
// joined. Backend names are normalized to lower case.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	st := &cfg.Storage
	st.Backend = strings.ToLower(strings.TrimSpace(st.Backend))
	st.Memcached.Addresses = normalizeStringSlice(st.Memcached.Addresses)

	if !contains(Backends, st.Backend) {
		errs = append(errs, fmt.Errorf("invalid storage.backend: %q (must be one of: %v)", st.Backend, Backends))
	}
	if strings.TrimSpace(st.Scope) == "" {
		errs = append(errs, errors.New("storage.scope must not be empty"))
	}
	if st.OperationTimeout < 0 {
		errs = append(errs, errors.New("storage.operation_timeout must not be negative"))
	}

	switch st.Backend {
	case BackendPostgres, BackendMySQL:
		if strings.TrimSpace(st.SQL.DSN) == "" {
			errs = append(errs, fmt.Errorf("storage.sql.dsn is required for %s", st.Backend))
		}
	case BackendRedis:
		if strings.TrimSpace(st.Redis.URL) == "" {
			errs = append(errs, errors.New("storage.redis.url is required for redis"))
		}
	case BackendMemcached:
		if len(st.Memcached.Addresses) == 0 {
			errs = append(errs, errors.New("storage.memcached.addresses is required for memcached"))
		}
	case BackendDynamoDB:
		if st.DynamoDB.Region == "" {
			errs = append(errs, errors.New("storage.dynamodb.region is required for dynamodb"))
		}
		if st.DynamoDB.Table == "" {
			errs = append(errs, errors.New("storage.dynamodb.table is required for dynamodb"))
		}
	case BackendS3:
		if st.S3.Region == "" {
			errs = append(errs, errors.New("storage.s3.region is required for s3"))
		}
		if st.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for s3"))
		}
	case BackendMongoDB:
		if st.MongoDB.URL == "" {
			errs = append(errs, errors.New("storage.mongodb.url is required for mongodb"))
		}
		if st.MongoDB.Database == "" {
			errs = append(errs, errors.New("storage.mongodb.database is required for mongodb"))
		}
	}

	if cb := st.CircuitBreaker; cb.Enabled {
		if cb.MaxFailures < 1 {
			errs = append(errs, errors.New("storage.circuit_breaker.max_failures must be at least 1"))
		}
		if cb.ResetTimeout <= 0 {
			errs = append(errs, errors.New("storage.circuit_breaker.reset_timeout must be positive"))
		}
	}

	obs := cfg.Observability
	if _, err := logger.ParseLogLevel(obs.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %w", err))
	}
	if _, err := logger.ParseLogFormat(obs.LogFormat); err != nil {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %w", err))
	}
	if obs.TracingSampleRate < 0 || obs.TracingSampleRate > 1 {
		errs = append(errs, fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1, got %v", obs.TracingSampleRate))
	}
	if obs.TracingEnabled && strings.TrimSpace(obs.TracingEndpoint) == "" {
		errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
	}

	return errors.Join(errs...)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func normalizeStringSlice(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
