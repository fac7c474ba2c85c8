package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/icongen/historydb/pkg/ingest"
)

func newImportCommand() *cobra.Command {
	var (
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "import PATH",
		Short: "Import history items from JSON files",
		Long: `Import history items from a JSON file or from every .json file in a
directory. A file holds one item object or an array of items. The history is
trimmed to history.max_items after each file.

With --watch, a directory is imported and then watched for new files until
interrupted.`,
		Example: `  # Import a single export
  histdb import export.json

  # Keep a drop directory imported
  histdb import ./incoming --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("failed to stat path: %w", err)
			}
			if watch && !info.IsDir() {
				return fmt.Errorf("--watch requires a directory")
			}

			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close(ctx)

			importer := ingest.NewImporter(sess.store, sess.tel.Logger.Zerolog(), sess.cfg.History.MaxItems)

			var results []ingest.Result
			if info.IsDir() {
				if results, err = importer.ImportDir(ctx, path); err != nil {
					return err
				}
			} else {
				result, err := importer.ImportFile(ctx, path)
				if err != nil {
					return err
				}
				results = append(results, *result)
			}

			if err := printResults(cmd, results); err != nil {
				return err
			}

			if !watch {
				return nil
			}
			return importer.Watch(ctx, path, func(r ingest.Result) {
				_ = printResults(cmd, []ingest.Result{r})
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "watch the directory for new files")

	return cmd
}

func printResults(cmd *cobra.Command, results []ingest.Result) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), results)
	}
	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %s: %d saved, %d skipped, %d trimmed\n", r.File, r.Saved, r.Skipped, r.Trimmed)
	}
	return nil
}
