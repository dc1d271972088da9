package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/replayer/internal/config"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/logger"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/telemetry"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	tracing *telemetry.Tracing
)

var rootCmd = &cobra.Command{
	Use:   "replayer",
	Short: "Replay captured HTTP requests and compare their responses",
	Long: `Replayer - HTTP replay and differential probing

Replays request descriptors (JSON, YAML or TOML) with manual redirect
handling and a per-process cookie jar, substitutes candidate values into
templates to find which inputs change the response, and diffs two
responses line by line.

COMMANDS:
  replayer request req.json              - Replay one descriptor
  replayer probe tmpl.json --value 1-50  - Group candidates by response
  replayer diff a.json b.json            - Line diff of two responses
  replayer serve                         - HTTP API (+ /metrics, websocket stream)
  replayer mcp                           - MCP tool server over stdio
  replayer abort set|clear|status        - Shared abort flag
  replayer pages --task t1               - Pages stored by exploration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		tracing, err = telemetry.NewTracing(cmd.Context(), cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if tracing != nil {
			if err := tracing.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to flush traces: %v\n", err)
			}
		}
		if log != nil {
			// stdout/stderr return EINVAL on sync under Linux.
			if err := log.Sync(); err != nil && !strings.Contains(err.Error(), "invalid argument") {
				fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", err)
			}
		}
	},
}

func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	defaults := config.Default()
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/replayer/replayer.{yaml,toml})")
	flags.String("task", orchestrator.DefaultTask, "task whose explored pages and forms are shared")

	// Logging configuration
	flags.String("log-level", defaults.Logger.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", defaults.Logger.Format, "log format (json, console)")
	flags.String("log-file", "", "also write JSON logs to this rotating file")
	viper.BindPFlag("logger.level", flags.Lookup("log-level"))
	viper.BindPFlag("logger.format", flags.Lookup("log-format"))
	viper.BindPFlag("logger.file.path", flags.Lookup("log-file"))
	viper.BindEnv("logger.level", "REPLAYER_LOG_LEVEL")
	viper.BindEnv("logger.format", "REPLAYER_LOG_FORMAT")

	// Engine configuration
	flags.Duration("timeout", defaults.Engine.Timeout, "per-hop request timeout")
	flags.Int("max-redirects", defaults.Engine.MaxRedirects, "redirect hops before giving up")
	flags.Bool("insecure", defaults.Engine.Insecure, "skip TLS certificate verification")
	flags.String("temp-dir", defaults.Engine.TempDir, "directory for saved response bodies")
	flags.String("tls-fingerprint", "", "uTLS ClientHello profile (chrome, firefox, safari, edge, ios)")
	viper.BindPFlag("engine.timeout", flags.Lookup("timeout"))
	viper.BindPFlag("engine.max_redirects", flags.Lookup("max-redirects"))
	viper.BindPFlag("engine.insecure", flags.Lookup("insecure"))
	viper.BindPFlag("engine.temp_dir", flags.Lookup("temp-dir"))
	viper.BindPFlag("engine.tls_fingerprint", flags.Lookup("tls-fingerprint"))

	// Probe pacing
	flags.Int("concurrency", defaults.Probe.Concurrency, "candidates in flight at once")
	flags.Float64("rate", defaults.Probe.RateLimit, "probe requests per second across hosts (0 = unlimited)")
	flags.Duration("min-delay", defaults.Probe.MinDelay, "minimum delay between requests to one host")
	viper.BindPFlag("probe.concurrency", flags.Lookup("concurrency"))
	viper.BindPFlag("probe.rate_limit", flags.Lookup("rate"))
	viper.BindPFlag("probe.min_delay", flags.Lookup("min-delay"))

	// Database configuration
	flags.String("db-driver", defaults.Database.Driver, "page store driver (sqlite, postgres, none)")
	flags.String("db-dsn", defaults.Database.DSN, "page store connection string or sqlite path")
	viper.BindPFlag("database.driver", flags.Lookup("db-driver"))
	viper.BindPFlag("database.dsn", flags.Lookup("db-dsn"))
	viper.BindEnv("database.dsn", "REPLAYER_DATABASE_DSN", "DATABASE_URL")

	// Redis configuration
	flags.String("redis-addr", "", "Redis address for the shared abort flag (empty = process local)")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", 0, "Redis database number")
	viper.BindPFlag("redis.addr", flags.Lookup("redis-addr"))
	viper.BindPFlag("redis.password", flags.Lookup("redis-password"))
	viper.BindPFlag("redis.db", flags.Lookup("redis-db"))
	viper.BindEnv("redis.addr", "REPLAYER_REDIS_ADDR", "REDIS_URL")
	viper.BindEnv("redis.password", "REPLAYER_REDIS_PASSWORD")

	// Telemetry
	flags.Bool("telemetry", defaults.Telemetry.Enabled, "export traces over OTLP/HTTP")
	flags.String("otlp-endpoint", defaults.Telemetry.Endpoint, "OTLP/HTTP collector endpoint")
	viper.BindPFlag("telemetry.enabled", flags.Lookup("telemetry"))
	viper.BindPFlag("telemetry.endpoint", flags.Lookup("otlp-endpoint"))

	// API keys (environment variables only, never flags)
	viper.BindEnv("security.api_key", "REPLAYER_API_KEY")
}

// initConfig layers flags over env over the config file over config.Default.
func initConfig() error {
	loaded, err := loadConfig(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func loadConfig(v *viper.Viper, file string) (*config.Config, error) {
	v.SetEnvPrefix("REPLAYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("replayer")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "replayer"))
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	loaded := config.Default()
	if err := v.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return loaded, nil
}

// newOrchestrator builds the service the subcommands drive.
func newOrchestrator(ctx context.Context, metrics *telemetry.Metrics) (*orchestrator.Orchestrator, error) {
	factory := orchestrator.NewFactory(cfg, log)
	if metrics != nil {
		factory = factory.WithMetrics(metrics)
	}
	return factory.Build(ctx)
}

func taskFlag(cmd *cobra.Command) string {
	task, _ := cmd.Flags().GetString("task")
	return task
}

func GetConfig() *config.Config {
	return cfg
}

func GetLogger() *logger.Logger {
	return log
}
