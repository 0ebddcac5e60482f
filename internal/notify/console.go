package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"

	"github.com/yairfalse/rankwatch/pkg/types"
)

const (
	defaultWidth  = 120
	maxDetailRows = 5
)

// Console renders reports as tables for a terminal
type Console struct {
	w       io.Writer
	noColor bool
	width   int
	// detail caps the lines printed per change kind; 0 prints everything
	detail int
}

// NewConsole creates a console notifier writing to w
func NewConsole(w io.Writer, noColor bool) *Console {
	width := defaultWidth
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 40 {
			width = cols
		}
	} else {
		// not a terminal
		noColor = true
	}
	return &Console{w: w, noColor: noColor, width: width, detail: maxDetailRows}
}

// plainConsole renders without color for mail bodies and tests
func plainConsole() *Console {
	return &Console{noColor: true, width: defaultWidth, detail: maxDetailRows}
}

// SetDetailLimit caps the entries listed per change kind. 0 lists all.
func (c *Console) SetDetailLimit(n int) {
	if n >= 0 {
		c.detail = n
	}
}

// RenderChanges renders one change set the way run reports show it
func (c *Console) RenderChanges(name string, cs *types.ChangeSet) string {
	if cs.IsEmpty() {
		return c.colorize(name, color.Bold) + "\n  no entry changes\n"
	}
	return c.changeDetail(types.SourceResult{SourceID: cs.SourceID, Name: name, Changes: cs})
}

// Notify implements Notifier
func (c *Console) Notify(ctx context.Context, report *types.RunReport) error {
	_, err := io.WriteString(c.w, c.Render(report))
	return err
}

// Render returns the full console report
func (c *Console) Render(report *types.RunReport) string {
	var b strings.Builder

	title := "Ranking sync"
	if report.CheckOnly {
		title += " (check only, nothing written)"
	}
	b.WriteString(c.colorize(title, color.FgCyan, color.Bold))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Run %s  started %s  took %s  lookback %s\n\n",
		shortID(report.ID),
		report.StartedAt.Local().Format("2006-01-02 15:04:05"),
		report.Duration().Round(time.Millisecond),
		formatDays(report.Lookback)))

	b.WriteString(c.resultsTable(report))
	b.WriteString("\n")

	for _, res := range report.Results {
		if res.Outcome != types.OutcomeUpdated || res.Changes.IsEmpty() {
			continue
		}
		b.WriteString("\n")
		b.WriteString(c.changeDetail(res))
	}

	b.WriteString("\n")
	b.WriteString(c.summaryLine(report))
	b.WriteString("\n")
	return b.String()
}

func (c *Console) resultsTable(report *types.RunReport) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetAllowedRowLength(c.width)
	t.AppendHeader(table.Row{"Source", "Outcome", "Rows", "Changes", "Detail", "Took"})

	for _, res := range report.Results {
		detail := res.Reason
		if res.Error != "" {
			detail = res.Error
		}
		changes := ""
		if res.Outcome == types.OutcomeUpdated {
			changes = changeLine(res.Changes)
		}
		rows := ""
		if res.Outcome != types.OutcomeSkipped {
			rows = fmt.Sprintf("%d", res.RowCount)
		}
		t.AppendRow(table.Row{
			res.SourceID,
			c.outcome(res.Outcome),
			rows,
			changes,
			truncate(detail, 60),
			res.Duration.Round(time.Millisecond).String(),
		})
	}
	return t.Render()
}

func (c *Console) changeDetail(res types.SourceResult) string {
	var b strings.Builder
	cs := res.Changes
	name := res.Name
	if name == "" {
		name = res.SourceID
	}
	b.WriteString(c.colorize(name, color.Bold))
	b.WriteString("\n")

	if len(cs.NewEntries) > 0 {
		for _, e := range c.head(cs.NewEntries) {
			b.WriteString(c.colorize(fmt.Sprintf("  + #%d %s (%s pts)", e.Rank, e.Key, types.FormatPoints(e.Points)), color.FgGreen))
			b.WriteString("\n")
		}
		b.WriteString(c.more(len(cs.NewEntries)))
	}
	if len(cs.DroppedEntries) > 0 {
		for _, e := range c.head(cs.DroppedEntries) {
			b.WriteString(c.colorize(fmt.Sprintf("  - #%d %s", e.Rank, e.Key), color.FgRed))
			b.WriteString("\n")
		}
		b.WriteString(c.more(len(cs.DroppedEntries)))
	}
	if len(cs.RankChanges) > 0 {
		moves := make([]types.RankChange, len(cs.RankChanges))
		copy(moves, cs.RankChanges)
		// biggest movers first
		sort.SliceStable(moves, func(i, j int) bool {
			return abs(moves[i].Delta) > abs(moves[j].Delta)
		})
		for i, rc := range moves {
			if i == c.detail && c.detail > 0 {
				break
			}
			arrow, attr := "▲", color.FgGreen
			if rc.Delta < 0 {
				arrow, attr = "▼", color.FgYellow
			}
			b.WriteString(c.colorize(fmt.Sprintf("  %s %s #%d → #%d", arrow, rc.Key, rc.OldRank, rc.NewRank), attr))
			b.WriteString("\n")
		}
		b.WriteString(c.more(len(moves)))
	}
	if len(cs.ValueChanges) > 0 {
		for i, vc := range cs.ValueChanges {
			if i == c.detail && c.detail > 0 {
				break
			}
			b.WriteString(fmt.Sprintf("  ~ %s %s: %s → %s\n", vc.Key, vc.Field, vc.OldValue, vc.NewValue))
		}
		b.WriteString(c.more(len(cs.ValueChanges)))
	}
	return b.String()
}

func (c *Console) summaryLine(report *types.RunReport) string {
	n := report.Counts
	line := fmt.Sprintf("%d checked: %d updated, %d unchanged, %d skipped, %d failed",
		n.Checked, n.Updated, n.Unchanged, n.Skipped, n.Errored)
	switch {
	case n.Errored > 0:
		return c.colorize("✗ "+line, color.FgRed)
	case n.Updated > 0:
		return c.colorize("● "+line, color.FgYellow)
	default:
		return c.colorize("✓ "+line, color.FgGreen)
	}
}

func (c *Console) outcome(o types.Outcome) string {
	switch o {
	case types.OutcomeUpdated:
		return c.colorize(string(o), color.FgYellow, color.Bold)
	case types.OutcomeUnchanged:
		return c.colorize(string(o), color.FgGreen)
	case types.OutcomeError:
		return c.colorize(string(o), color.FgRed, color.Bold)
	default:
		return c.colorize(string(o), color.Faint)
	}
}

func (c *Console) colorize(text string, attrs ...color.Attribute) string {
	if c.noColor {
		return text
	}
	col := color.New(attrs...)
	col.EnableColor()
	return col.Sprint(text)
}

func (c *Console) head(entries []types.Entry) []types.Entry {
	if c.detail > 0 && len(entries) > c.detail {
		return entries[:c.detail]
	}
	return entries
}

func (c *Console) more(n int) string {
	if c.detail == 0 || n <= c.detail {
		return ""
	}
	return fmt.Sprintf("    … and %d more\n", n-c.detail)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDays(d time.Duration) string {
	if d%(24*time.Hour) == 0 && d > 0 {
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
	return d.String()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
