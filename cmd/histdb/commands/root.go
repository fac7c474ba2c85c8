package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/icongen/historydb/pkg/config"
	"github.com/icongen/historydb/pkg/stores"
	"github.com/icongen/historydb/pkg/telemetry"
)

// defaultConfigPath is used when --config is not given and the file exists.
var defaultConfigPath = filepath.Join(".historydb", config.DefaultFileName)

var (
	// Global flags
	configPath string
	dbPath     string
	verbose    bool
	jsonOutput bool

	buildVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "histdb",
		Short: "histdb - icon generation history store",
		Long: `histdb manages the local history of generated icons.

Each history item has an ID, a millisecond timestamp and free-form fields
such as the prompt or the image location. Items are kept in a SQLite
database, listed most recent first, and trimmed to a retention limit.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default "+defaultConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path, overrides the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newSaveCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newClearCommand())
	rootCmd.AddCommand(newCountCommand())
	rootCmd.AddCommand(newTrimCommand())
	rootCmd.AddCommand(newImportCommand())

	return rootCmd
}

// loadConfig resolves the configuration from --config, the default file
// location, or the built-in defaults, then applies flag overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	switch {
	case configPath != "":
		cfg, err = config.Load(configPath)
	case fileExists(defaultConfigPath):
		cfg, err = config.Load(defaultConfigPath)
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}

	return cfg, cfg.Validate()
}

// session is an opened store with its telemetry.
type session struct {
	cfg   *config.Config
	tel   *telemetry.Telemetry
	store *stores.SQLiteStore
}

// openSession loads the configuration and initializes the history store.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(buildVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if cfg.Database.Path != stores.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			_ = tel.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(cfg.StoreConfig(),
		stores.WithLogger(tel.Logger),
		stores.WithMetrics(tel.Metrics),
		stores.WithTracer(tel.Tracer),
		stores.WithEvents(tel.Events),
	)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	if _, err := store.Init(ctx); err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	log.Debug().Str("db", cfg.Database.Path).Msg("History store opened")

	return &session{cfg: cfg, tel: tel, store: store}, nil
}

// Close closes the store and flushes telemetry.
func (s *session) Close(ctx context.Context) {
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close history store")
	}
	if err := s.tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
