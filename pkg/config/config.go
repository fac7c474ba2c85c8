package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/icongen/historydb/pkg/stores"
	"github.com/icongen/historydb/pkg/telemetry"
)

// DefaultFileName is the configuration file created by histdb init.
const DefaultFileName = "historydb.yaml"

// Config is the top-level configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DatabaseConfig configures the SQLite history store.
type DatabaseConfig struct {
	Path         string        `yaml:"path" validate:"required"`
	MaxOpenConns int           `yaml:"max_open_conns" validate:"gte=0"`
	BusyTimeout  time.Duration `yaml:"busy_timeout" validate:"gte=0"`
}

// HistoryConfig configures retention.
type HistoryConfig struct {
	// MaxItems is the number of items kept after an import; 0 disables trimming.
	MaxItems int `yaml:"max_items" validate:"gte=0"`
}

// TelemetryConfig configures logging, tracing and metrics.
type TelemetryConfig struct {
	LogLevel  string        `yaml:"log_level" validate:"oneof=trace debug info warn error fatal"`
	LogFormat string        `yaml:"log_format" validate:"oneof=console json"`
	LogOutput string        `yaml:"log_output"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// MetricsConfig configures the prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         filepath.Join(".historydb", "history.db"),
			MaxOpenConns: 4,
			BusyTimeout:  5 * time.Second,
		},
		History: HistoryConfig{
			MaxItems: 50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "console",
			LogOutput: "stderr",
			Tracing: TracingConfig{
				Enabled:      false,
				Exporter:     "none",
				SamplingRate: 1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "historydb",
			},
		},
	}
}

// Load reads a configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	defaultPath := cfg.Database.Path
	cfg.Database.Path = ""
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// A relative database path in the file is relative to the file itself.
	switch p := expandHome(cfg.Database.Path); {
	case p == "":
		cfg.Database.Path = defaultPath
	case filepath.IsAbs(p) || p == stores.MemoryPath:
		cfg.Database.Path = p
	default:
		cfg.Database.Path = filepath.Join(filepath.Dir(path), p)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration against its field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// Write saves the configuration as YAML, creating parent directories.
func (c *Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// StoreConfig returns the settings for stores.NewSQLiteStore.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{
		Path:         c.Database.Path,
		MaxOpenConns: c.Database.MaxOpenConns,
		BusyTimeout:  c.Database.BusyTimeout,
	}
}

// TelemetryConfig returns the settings for telemetry.NewTelemetry.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = c.Telemetry.LogLevel
	tc.Logging.Format = c.Telemetry.LogFormat
	if c.Telemetry.LogOutput != "" {
		tc.Logging.Output = c.Telemetry.LogOutput
	}

	tc.Tracing.Enabled = c.Telemetry.Tracing.Enabled
	if c.Telemetry.Tracing.Exporter != "" {
		tc.Tracing.Exporter = c.Telemetry.Tracing.Exporter
	}
	tc.Tracing.Endpoint = c.Telemetry.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Telemetry.Tracing.SamplingRate

	tc.Metrics.Enabled = c.Telemetry.Metrics.Enabled
	if c.Telemetry.Metrics.Namespace != "" {
		tc.Metrics.Namespace = c.Telemetry.Metrics.Namespace
	}

	return tc
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
