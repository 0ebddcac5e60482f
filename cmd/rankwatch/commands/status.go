package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/yairfalse/rankwatch/internal/scheduler"
	"github.com/yairfalse/rankwatch/pkg/types"
)

// sourceStatus is one row of the status view
type sourceStatus struct {
	SourceID string                `json:"source_id"`
	Name     string                `json:"name"`
	Cadence  types.Cadence         `json:"cadence"`
	Due      bool                  `json:"due"`
	Running  bool                  `json:"running"`
	Reason   scheduler.Reason      `json:"reason"`
	Metadata *types.SourceMetadata `json:"metadata,omitempty"`
}

func newStatusCommand(c *cli) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync state of every source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := c.status(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			renderStatus(c.out, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}

func (c *cli) status(ctx context.Context, now time.Time) ([]sourceStatus, error) {
	reg, err := c.registry()
	if err != nil {
		return nil, err
	}
	store, err := c.openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	all, err := store.ListMetadata(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := c.lockManager()
	if err != nil {
		return nil, err
	}

	lookback := c.cfg.Sync.CorrectionLookback
	if lookback <= 0 {
		lookback = reg.CorrectionLookback()
	}
	policy := scheduler.Policy{Lookback: lookback}

	var rows []sourceStatus
	for _, src := range reg.Sources() {
		meta := all[src.ID]
		decision := policy.ShouldCheck(&src, meta, now)
		rows = append(rows, sourceStatus{
			SourceID: src.ID,
			Name:     src.DisplayName(),
			Cadence:  src.Cadence,
			Due:      decision.Check,
			Reason:   decision.Reason,
			Running:  locker.IsLocked(src.ID),
			Metadata: meta,
		})
	}
	return rows, nil
}

func renderStatus(w io.Writer, rows []sourceStatus) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Source", "Cadence", "Status", "Last check", "Last change", "Rows", "Next run"})

	for _, r := range rows {
		status, lastCheck, lastChange, rowCount := color.HiBlackString("never checked"), "-", "-", "-"
		if m := r.Metadata; m != nil {
			status = statusLabel(m.Status)
			lastCheck = formatAge(m.LastCheckAt)
			if m.LastChangeAt != nil {
				lastChange = formatAge(*m.LastChangeAt)
			}
			rowCount = fmt.Sprintf("%d", m.RowCount)
			if m.LastError != "" {
				status += " " + color.HiBlackString(truncateString(m.LastError, 40))
			}
		}

		next := color.HiBlackString("fresh")
		switch {
		case r.Running:
			next = color.CyanString("syncing now")
		case r.Due:
			next = color.YellowString("due (%s)", r.Reason)
		}

		t.AppendRow(table.Row{r.SourceID, string(r.Cadence), status, lastCheck, lastChange, rowCount, next})
	}
	t.Render()
}

func statusLabel(s types.SyncStatus) string {
	switch s {
	case types.StatusUpdated:
		return color.YellowString(string(s))
	case types.StatusUnchanged:
		return color.GreenString(string(s))
	case types.StatusError:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	age := time.Since(t)
	var rel string
	switch {
	case age < time.Minute:
		rel = "just now"
	case age < time.Hour:
		rel = fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 48*time.Hour:
		rel = fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		rel = fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
	return fmt.Sprintf("%s (%s)", t.Local().Format("2006-01-02 15:04"), rel)
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
