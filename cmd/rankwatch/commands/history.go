package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/yairfalse/rankwatch/pkg/types"
)

func newHistoryCommand(c *cli) *cobra.Command {
	var (
		limit   int
		jsonOut bool
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "history <source>",
		Short: "List the stored snapshots of a source",
		Example: `  rankwatch history rankings
  rankwatch history rankings --limit 5 --quiet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.source(args[0]); err != nil {
				return err
			}

			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			infos, err := store.ListSnapshots(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to list snapshots: %w", err)
			}
			if limit > 0 && len(infos) > limit {
				infos = infos[:limit]
			}

			switch {
			case jsonOut:
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			case quiet:
				for _, info := range infos {
					fmt.Fprintln(c.out, info.ID)
				}
				return nil
			}

			if len(infos) == 0 {
				fmt.Fprintf(c.out, "No snapshots for %s yet. Run 'rankwatch sync --source %s' first.\n", args[0], args[0])
				return nil
			}
			renderHistory(c.out, args[0], infos)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "limit number of snapshots shown (0 for all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print snapshot ids only")
	return cmd
}

func renderHistory(w io.Writer, sourceID string, infos []types.SnapshotInfo) {
	fmt.Fprintf(w, "History of %s (%d snapshots, newest first)\n", sourceID, len(infos))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Snapshot", "Taken", "Rows", "Fingerprint"})
	for i, info := range infos {
		fp := info.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		t.AppendRow(table.Row{i, info.ID, info.Timestamp.Local().Format("2006-01-02 15:04:05"), info.EntryCount, fp})
	}
	t.Render()
}
