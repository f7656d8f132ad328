// Package config loads the YAML configuration shared by the ripple binary and
// its scenarios. Files are validated against an embedded CUE schema before
// they are merged over the defaults.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/AnatoleLucet/ripple/internal"
	"github.com/AnatoleLucet/ripple/internal/observability"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Runtime RuntimeConfig `yaml:"runtime"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Server  ServerConfig  `yaml:"server"`
}

type RuntimeConfig struct {
	Order         string `yaml:"order"`
	AutoFlush     bool   `yaml:"auto_flush"`
	SkipUnchanged bool   `yaml:"skip_unchanged"`

	// MaxDrainJobs bounds one drain; 0 disables the bound and nil keeps the default.
	MaxDrainJobs *int `yaml:"max_drain_jobs"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Prefix  string `yaml:"prefix"`
	Async   bool   `yaml:"async"`

	// sqlite
	Path string `yaml:"path"`

	// s3
	Bucket    string `yaml:"bucket"`
	KeyPrefix string `yaml:"key_prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

func DefaultConfig() Config {
	return Config{
		Runtime: RuntimeConfig{
			Order:        "fifo",
			MaxDrainJobs: intPtr(internal.DefaultMaxDrainJobs),
		},
		Storage: StorageConfig{
			Backend: "none",
			Prefix:  "ripple",
			Path:    "ripple.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "ripple",
		},
		Server: ServerConfig{
			Addr:          ":8080",
			FlushInterval: 16 * time.Millisecond,
		},
	}
}

// MaxDrainJobBudget resolves MaxDrainJobs, falling back to the runtime default.
func (r RuntimeConfig) MaxDrainJobBudget() int {
	if r.MaxDrainJobs == nil {
		return internal.DefaultMaxDrainJobs
	}
	return *r.MaxDrainJobs
}

func intPtr(n int) *int { return &n }

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Runtime.Order != "" {
		c.Runtime.Order = source.Runtime.Order
	}
	if source.Runtime.AutoFlush {
		c.Runtime.AutoFlush = true
	}
	if source.Runtime.SkipUnchanged {
		c.Runtime.SkipUnchanged = true
	}
	if source.Runtime.MaxDrainJobs != nil {
		c.Runtime.MaxDrainJobs = intPtr(*source.Runtime.MaxDrainJobs)
	}

	s := source.Storage
	if s.Backend != "" {
		c.Storage.Backend = s.Backend
	}
	if s.Prefix != "" {
		c.Storage.Prefix = s.Prefix
	}
	if s.Async {
		c.Storage.Async = true
	}
	if s.Path != "" {
		c.Storage.Path = s.Path
	}
	if s.Bucket != "" {
		c.Storage.Bucket = s.Bucket
	}
	if s.KeyPrefix != "" {
		c.Storage.KeyPrefix = s.KeyPrefix
	}
	if s.Region != "" {
		c.Storage.Region = s.Region
	}
	if s.Endpoint != "" {
		c.Storage.Endpoint = s.Endpoint
	}

	if source.Log.Level != "" {
		c.Log.Level = source.Log.Level
	}
	if source.Log.Format != "" {
		c.Log.Format = source.Log.Format
	}

	if source.Metrics.Enabled {
		c.Metrics.Enabled = true
	}
	if source.Metrics.Namespace != "" {
		c.Metrics.Namespace = source.Metrics.Namespace
	}

	if source.Server.Addr != "" {
		c.Server.Addr = source.Server.Addr
	}
	if source.Server.FlushInterval > 0 {
		c.Server.FlushInterval = source.Server.FlushInterval
	}
}

// Load reads a YAML config file, validates it and merges it with the defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes YAML config data, merged with the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if err := Validate(data); err != nil {
		return nil, err
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}

// RuntimeOptions translates the runtime section. metrics may be nil.
func (c *Config) RuntimeOptions(logger *slog.Logger, metrics *observability.Metrics) ([]internal.Option, error) {
	order, err := internal.ParseOrder(c.Runtime.Order)
	if err != nil {
		return nil, err
	}

	return []internal.Option{
		internal.WithOrder(order),
		internal.WithAutoFlush(c.Runtime.AutoFlush),
		internal.WithSkipUnchanged(c.Runtime.SkipUnchanged),
		internal.WithMaxDrainJobs(c.Runtime.MaxDrainJobBudget()),
		internal.WithLogger(logger),
		internal.WithObserver(observability.NewSlogObserver(logger)),
		internal.WithMetrics(metrics),
	}, nil
}

// NewLogger builds the slog logger described by the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Log.Level)}

	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
