package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/icongen/historydb/pkg/stores"
)

func newSaveCommand() *cobra.Command {
	var (
		id        string
		timestamp int64
		fields    []string
		noTrim    bool
	)

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save a history item",
		Long: `Save a history item, replacing any item with the same ID.

A random ID and the current time are used when --id and --timestamp are not
given. Field values that parse as JSON are stored as JSON, anything else as a
string. After saving, the history is trimmed to history.max_items.`,
		Example: `  # Save a new item
  histdb save --field prompt="paper plane" --field size=512

  # Replace an existing item
  histdb save --id icon-001 --timestamp 1700000000000 --field prompt=owl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			item := stores.HistoryItem{ID: id, Timestamp: timestamp}
			if item.ID == "" {
				item.ID = uuid.NewString()
			}
			if item.Timestamp == 0 {
				item.Timestamp = time.Now().UnixMilli()
			}
			for _, field := range fields {
				if err := setField(&item, field); err != nil {
					return err
				}
			}

			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close(ctx)

			if err := sess.store.Save(ctx, item); err != nil {
				return err
			}

			trimmed := 0
			if maxItems := sess.cfg.History.MaxItems; maxItems > 0 && !noTrim {
				if trimmed, err = sess.store.Trim(ctx, maxItems); err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), item)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved item %s\n", item.ID)
			if trimmed > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Trimmed %d old items\n", trimmed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "item ID (default random)")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "Unix timestamp in milliseconds (default now)")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "payload field as key=value (repeatable)")
	cmd.Flags().BoolVar(&noTrim, "no-trim", false, "skip trimming after save")

	return cmd
}

// setField parses a key=value flag into a payload field.
func setField(item *stores.HistoryItem, field string) error {
	key, value, ok := strings.Cut(field, "=")
	if !ok || key == "" {
		return fmt.Errorf("invalid field %q, expected key=value", field)
	}
	if json.Valid([]byte(value)) {
		return item.SetField(key, json.RawMessage(value))
	}
	return item.SetField(key, value)
}

func newListCommand() *cobra.Command {
	var (
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List history items, most recent first",
		Example: `  # Show the ten most recent items
  histdb list --limit 10

  # Dump everything as JSON
  histdb list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close(ctx)

			items, err := sess.store.List(ctx)
			if err != nil {
				return err
			}
			if limit > 0 && len(items) > limit {
				items = items[:limit]
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), items)
			}
			return printItems(cmd.OutOrStdout(), items)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of items to show (0 for all)")

	return cmd
}

func printItems(w io.Writer, items []stores.HistoryItem) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "No history items")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tFIELDS")
	for _, item := range items {
		names := make([]string, 0, len(item.Fields))
		for name := range item.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", item.ID, item.Time().UTC().Format(time.RFC3339), strings.Join(names, ","))
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
