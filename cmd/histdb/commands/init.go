package commands

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/icongen/historydb/pkg/config"
)

func newInitCommand() *cobra.Command {
	var (
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a history database",
		Long: `Initialize a history workspace: write a config file and create the
SQLite database with the current schema.

An existing config file is kept unless --force is given.`,
		Example: `  # Initialize in ./.historydb
  histdb init

  # Initialize with a custom database location
  histdb init --db /var/lib/historydb/history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			path := configPath
			if path == "" {
				path = defaultConfigPath
			}

			log.Info().
				Str("config", path).
				Bool("force", force).
				Msg("Initializing history workspace")

			if fileExists(path) && !force {
				fmt.Fprintf(out, "✓ Config file already exists: %s\n", path)
			} else {
				cfg := config.Default()
				cfg.Database.Path = "history.db"
				if dbPath != "" {
					abs, err := filepath.Abs(dbPath)
					if err != nil {
						return fmt.Errorf("failed to resolve database path: %w", err)
					}
					cfg.Database.Path = abs
				}
				if err := cfg.Write(path); err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Created config file: %s\n", path)
			}

			configPath = path
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close(ctx)

			version, _, err := sess.store.SchemaVersion(ctx)
			if err != nil {
				return fmt.Errorf("failed to read schema version: %w", err)
			}

			fmt.Fprintf(out, "✓ Initialized history database: %s (schema version %d)\n", sess.cfg.Database.Path, version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
