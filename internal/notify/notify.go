// Package notify delivers run reports: a console table, a JSON report file,
// email and webhook alerts.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/rankwatch/internal/differ"
	"github.com/yairfalse/rankwatch/pkg/types"
)

// Notifier receives the report of every finished run
type Notifier interface {
	Notify(ctx context.Context, report *types.RunReport) error
}

// Multi fans a report out to several notifiers. Every notifier runs even
// when an earlier one fails.
type Multi []Notifier

// Notify implements Notifier
func (m Multi) Notify(ctx context.Context, report *types.RunReport) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnlyOnChange wraps a notifier so it only fires for runs with an update or
// an error.
func OnlyOnChange(n Notifier) Notifier {
	return &filtered{next: n, keep: Noteworthy}
}

type filtered struct {
	next Notifier
	keep func(*types.RunReport) bool
}

func (f *filtered) Notify(ctx context.Context, report *types.RunReport) error {
	if !f.keep(report) {
		return nil
	}
	return f.next.Notify(ctx, report)
}

// Noteworthy reports whether a run updated or failed any source
func Noteworthy(report *types.RunReport) bool {
	return report.HasChanges() || report.HasErrors()
}

// Subject is the one-line summary used for email subjects and chat titles
func Subject(report *types.RunReport) string {
	c := report.Counts
	prefix := "[rankwatch]"
	if report.CheckOnly {
		prefix = "[rankwatch check-only]"
	}
	switch {
	case c.Errored > 0 && c.Updated > 0:
		return fmt.Sprintf("%s %d updated, %d failed", prefix, c.Updated, c.Errored)
	case c.Errored > 0:
		return fmt.Sprintf("%s %d source(s) failed", prefix, c.Errored)
	case c.Updated > 0:
		return fmt.Sprintf("%s %d ranking(s) updated", prefix, c.Updated)
	default:
		return fmt.Sprintf("%s no changes (%d checked)", prefix, c.Checked)
	}
}

// changeLine summarizes one change set in a single line
func changeLine(cs *types.ChangeSet) string {
	if cs == nil {
		return ""
	}
	s := differ.Summarize(cs)
	if s.Total() == 0 {
		return "no entry changes"
	}
	return fmt.Sprintf("+%d new, -%d dropped, %d moved, %d modified (rows %+d)",
		s.New, s.Dropped, s.Moved, s.Modified, s.RowDelta)
}
