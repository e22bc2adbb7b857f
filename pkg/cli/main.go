// Package cli implements the asyncstorage command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/asyncstorage/pkg/asyncstorage"
	"github.com/nimburion/asyncstorage/pkg/config"
	"github.com/nimburion/asyncstorage/pkg/health"
	"github.com/nimburion/asyncstorage/pkg/hoststore"
	"github.com/nimburion/asyncstorage/pkg/hoststore/factory"
	"github.com/nimburion/asyncstorage/pkg/observability/logger"
	"github.com/nimburion/asyncstorage/pkg/observability/metrics"
	"github.com/nimburion/asyncstorage/pkg/observability/tracing"
	"github.com/nimburion/asyncstorage/pkg/version"
)

const shutdownTimeout = 5 * time.Second

// StoreOpener opens the host store selected by the configuration.
type StoreOpener func(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (hoststore.Store, error)

// CommandOptions configures the root command.
type CommandOptions struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Optional: replaces factory.New (tests, embedders with their own store).
	OpenStore StoreOpener
}

// session is everything a storage command needs, built once per invocation.
type session struct {
	cfg     *config.Config
	log     logger.Logger
	store   hoststore.Store
	storage *asyncstorage.Storage
	metrics *metrics.Registry
	tracer  *tracing.TracerProvider
}

func (s *session) close(ctx context.Context) {
	if err := s.store.Close(); err != nil {
		s.log.Warn("failed to close host store", "error", err)
	}
	if err := s.tracer.Shutdown(ctx); err != nil {
		s.log.Warn("failed to shut down tracer provider", "error", err)
	}
}

// NewRootCommand creates the CLI with get, set, remove, clear, keys,
// healthcheck, version and config subcommands.
func NewRootCommand(opts CommandOptions) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "asyncstorage"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}
	if opts.OpenStore == nil {
		opts.OpenStore = factory.New
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath string
	var secretFilePath string
	var printMetrics bool
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&secretFilePath, "secret-file", "", "path to secrets file (sets "+opts.EnvPrefix+"_SECRETS_FILE)")
	rootCmd.PersistentFlags().BoolVar(&printMetrics, "metrics", false, "print operation metrics to stderr on exit")

	loadConfig := func() (*config.Config, *config.Config, error) {
		if err := applySecretFileFlag(opts.EnvPrefix, secretFilePath); err != nil {
			return nil, nil, err
		}
		cfg, secrets, err := config.NewViperLoader(cfgPath, opts.EnvPrefix).LoadWithSecrets()
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, secrets, nil
	}

	withStorage := func(cmd *cobra.Command, run func(ctx context.Context, s *session) error) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context(), cfg, cmd.ErrOrStderr(), opts.OpenStore)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			s.close(ctx)
		}()

		runErr := run(cmd.Context(), s)
		if printMetrics {
			if err := s.metrics.WriteText(cmd.ErrOrStderr()); err != nil {
				s.log.Warn("failed to write metrics", "error", err)
			}
		}
		return runErr
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "get KEY",
		Short: "Print the value stored under KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, s *session) error {
				item, err := s.storage.GetItem(ctx, args[0]).Await()
				if err != nil {
					return err
				}
				if !item.Found {
					return fmt.Errorf("key %q not found", args[0])
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), item.Value)
				return err
			})
		},
	})

	setCmd := &cobra.Command{
		Use:   "set KEY [VALUE]",
		Short: "Store VALUE under KEY, reading it from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := valueArg(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return withStorage(cmd, func(ctx context.Context, s *session) error {
				_, err := s.storage.SetItem(ctx, args[0], value).Await()
				return err
			})
		},
	}
	rootCmd.AddCommand(setCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:     "remove KEY",
		Aliases: []string{"rm"},
		Short:   "Remove KEY; succeeds when it is already absent",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, s *session) error {
				_, err := s.storage.RemoveItem(ctx, args[0]).Await()
				return err
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every key in the configured scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, s *session) error {
				_, err := s.storage.Clear(ctx).Await()
				return err
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List the keys of the configured scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, s *session) error {
				keys, err := s.storage.GetAllKeys(ctx).Await()
				if err != nil {
					return err
				}
				for _, key := range keys {
					if _, err := fmt.Fprintln(cmd.OutOrStdout(), key); err != nil {
						return err
					}
				}
				return nil
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "healthcheck",
		Short: "Check that the host store is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, s *session) error {
				registry := health.NewRegistry()
				registry.Register(health.NewStoreChecker("storage."+s.cfg.Storage.Backend, s.store, s.cfg.Storage.OperationTimeout))
				result := registry.Check(ctx)
				for _, check := range result.Checks {
					line := fmt.Sprintf("%s: %s (%s)", check.Name, check.Status, check.Duration.Round(time.Millisecond))
					if check.Error != "" {
						line += ": " + check.Error
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				if !result.IsHealthy() {
					return errors.New("host store is unhealthy")
				}
				return nil
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(opts.Name)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s %s\n", info.GoVersion, info.Platform)
		},
	})

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, secrets, err := loadConfig()
			if err != nil {
				return err
			}
			formatted, err := formatSettings(cfg.Settings(secrets))
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), formatted)
			return err
		},
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := loadConfig(); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return err
		},
	})
	rootCmd.AddCommand(configCmd)

	return rootCmd
}

func openSession(ctx context.Context, cfg *config.Config, stderr io.Writer, open StoreOpener) (*session, error) {
	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
		Output: stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	tp, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version.Current(cfg.Service.Name).Version,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	store, err := open(ctx, cfg.Storage, log)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	log.Debug("host store opened", "backend", cfg.Storage.Backend, "scope", cfg.Storage.Scope)

	registry := metrics.NewRegistry()
	storage := asyncstorage.New(store,
		asyncstorage.WithLogger(log),
		asyncstorage.WithRecorder(registry.Storage()),
		asyncstorage.WithTracer(tp.Tracer("asyncstorage")),
		asyncstorage.WithSystem(cfg.Storage.Backend),
	)

	return &session{
		cfg:     cfg,
		log:     log,
		store:   store,
		storage: storage,
		metrics: registry,
		tracer:  tp,
	}, nil
}

func valueArg(stdin io.Reader, args []string) (string, error) {
	if len(args) == 2 {
		return args[1], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read value from stdin: %w", err)
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(strings.ToUpper(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func formatSettings(settings map[string]any) (string, error) {
	if settings == nil {
		return "{}\n", nil
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
