package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Security  SecurityConfig  `mapstructure:"security"`
}

type LoggerConfig struct {
	Level       string     `mapstructure:"level"`
	Format      string     `mapstructure:"format"`
	OutputPaths []string   `mapstructure:"output_paths"`
	File        FileConfig `mapstructure:"file"`
}

// FileConfig enables a rotating log file next to the regular outputs.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// EngineConfig controls how a single descriptor is replayed.
type EngineConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRedirects   int           `mapstructure:"max_redirects"`
	TempDir        string        `mapstructure:"temp_dir"`
	UserAgent      string        `mapstructure:"user_agent"`
	Insecure       bool          `mapstructure:"insecure"`
	BlockPrivate   bool          `mapstructure:"block_private"`
	TLSFingerprint string        `mapstructure:"tls_fingerprint"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
}

type ProbeConfig struct {
	MaxValues     int           `mapstructure:"max_values"`
	Concurrency   int           `mapstructure:"concurrency"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	Burst         int           `mapstructure:"burst"`
	MinDelay      time.Duration `mapstructure:"min_delay"`
	SnippetLength int           `mapstructure:"snippet_length"`
	PayloadDir    string        `mapstructure:"payload_dir"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	EnableCORS      bool          `mapstructure:"cors"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	AbortKey     string        `mapstructure:"abort_key"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	APIKey    string          `mapstructure:"api_key"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	BurstSize         int `mapstructure:"burst_size"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
			File: FileConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 14,
			},
		},
		Engine: EngineConfig{
			Timeout:      60 * time.Second,
			MaxRedirects: 20,
			TempDir:      DefaultTempDir(),
			UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			Insecure:     true,
			MaxBodyBytes: 32 << 20,
		},
		Probe: ProbeConfig{
			MaxValues:     500,
			Concurrency:   10,
			SnippetLength: 2000,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			EnableCORS:      true,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             filepath.Join(xdg.DataHome, "replayer", "pages.db"),
			MaxConnections:  10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			AbortKey:     "replayer:abort",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "replayer",
			ExporterType: "otlp",
			Endpoint:     "localhost:4318",
			SampleRate:   1.0,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 10,
				BurstSize:         20,
			},
		},
	}
}

// DefaultTempDir is where saved bodies land unless engine.temp_dir says otherwise.
func DefaultTempDir() string {
	return filepath.Join(xdg.CacheHome, "replayer", "tmp")
}

func (c *Config) Validate() error {
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine.timeout must be positive, got %s", c.Engine.Timeout)
	}
	if c.Engine.MaxRedirects < 0 {
		return fmt.Errorf("engine.max_redirects must not be negative, got %d", c.Engine.MaxRedirects)
	}
	if c.Engine.TempDir == "" {
		return fmt.Errorf("engine.temp_dir is required")
	}
	if c.Probe.Concurrency <= 0 {
		return fmt.Errorf("probe.concurrency must be positive, got %d", c.Probe.Concurrency)
	}
	if c.Probe.MaxValues <= 0 {
		return fmt.Errorf("probe.max_values must be positive, got %d", c.Probe.MaxValues)
	}
	if c.Probe.RateLimit < 0 {
		return fmt.Errorf("probe.rate_limit must not be negative")
	}
	switch c.Database.Driver {
	case "", "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	return nil
}
