package commands

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete ID [ID...]",
		Short: "Delete history items by ID",
		Long:  `Delete history items by ID. Deleting an ID that does not exist is not an error.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close(ctx)

			for _, id := range args {
				if err := sess.store.Delete(ctx, id); err != nil {
					return err
				}
				if !jsonOutput {
					fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s\n", id)
				}
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"deleted": args})
			}
			return nil
		},
	}

	return cmd
}

func newClearCommand() *cobra.Command {
	var (
		yes bool
	)

	cmd := &cobra.Command{
		Use:     "clear",
		Short:   "Remove every history item",
		Example: `  histdb clear --yes`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear history without --yes")
			}

			ctx := cmd.Context()
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close(ctx)

			if err := sess.store.Clear(ctx); err != nil {
				return err
			}

			log.Info().Str("db", sess.cfg.Database.Path).Msg("History cleared")
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"cleared": true})
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ History cleared")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm removal of all items")

	return cmd
}

func newCountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of history items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close(ctx)

			count, err := sess.store.Count(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"count": count})
			}
			fmt.Fprintln(cmd.OutOrStdout(), count)
			return nil
		},
	}

	return cmd
}

func newTrimCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trim [MAX]",
		Short: "Keep only the most recent items",
		Long: `Delete all but the MAX most recent history items. MAX defaults to
history.max_items from the config file.`,
		Example: `  # Keep the 20 most recent items
  histdb trim 20`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close(ctx)

			maxCount := sess.cfg.History.MaxItems
			if len(args) == 1 {
				if maxCount, err = strconv.Atoi(args[0]); err != nil {
					return fmt.Errorf("invalid item limit %q: %w", args[0], err)
				}
			}

			removed, err := sess.store.Trim(ctx, maxCount)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"removed": removed, "max": maxCount})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %d items (keeping at most %d)\n", removed, maxCount)
			return nil
		},
	}

	return cmd
}
