package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newSourcesCommand(c *cli) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List the configured ranking sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := c.registry()
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(reg.Sources())
			}

			t := table.NewWriter()
			t.SetOutputMirror(c.out)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"ID", "Name", "Cadence", "Fetch", "Identity", "Tracked"})
			for _, src := range reg.Sources() {
				t.AppendRow(table.Row{
					src.ID,
					src.DisplayName(),
					string(src.Cadence),
					string(src.Fetch.Kind),
					strings.Join(src.IdentityFields, ", "),
					strings.Join(src.Tracked(), ", "),
				})
			}
			t.Render()
			fmt.Fprintf(c.out, "%d sources, correction lookback %s\n", reg.Len(), reg.CorrectionLookback())
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}
