package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yairfalse/rankwatch/pkg/types"
)

// ReportFile writes each run report as update_report_<timestamp>.json
type ReportFile struct {
	dir string
	// last holds the path of the most recent report
	last string
}

// NewReportFile creates a notifier writing into dir
func NewReportFile(dir string) *ReportFile {
	return &ReportFile{dir: dir}
}

// Notify implements Notifier
func (r *ReportFile) Notify(ctx context.Context, report *types.RunReport) error {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	ts := report.FinishedAt
	if ts.IsZero() {
		ts = report.StartedAt
	}
	name := fmt.Sprintf("update_report_%s.json", ts.Local().Format("20060102_150405"))
	path := filepath.Join(r.dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write report: %w", err)
	}
	r.last = path
	return nil
}

// LastPath returns the file written by the latest Notify call
func (r *ReportFile) LastPath() string {
	return r.last
}
