package types

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Outcome is the per-source result of one run
type Outcome string

const (
	OutcomeSkipped   Outcome = "SKIPPED"
	OutcomeUnchanged Outcome = "UNCHANGED"
	OutcomeUpdated   Outcome = "UPDATED"
	OutcomeError     Outcome = "ERROR"
)

// SourceResult is one line of a run report
type SourceResult struct {
	SourceID string        `json:"source_id"`
	Name     string        `json:"name,omitempty"`
	Outcome  Outcome       `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
	RowCount int           `json:"row_count"`
	Duration time.Duration `json:"duration"`
	Changes  *ChangeSet    `json:"changes,omitempty"`
}

// RunCounts aggregates outcomes across a run
type RunCounts struct {
	Checked   int `json:"checked"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Errored   int `json:"errored"`
}

// RunReport summarizes one sync run
type RunReport struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Lookback   time.Duration  `json:"lookback"`
	CheckOnly  bool           `json:"check_only,omitempty"`
	Results    []SourceResult `json:"results"`
	Counts     RunCounts      `json:"counts"`
}

// NewRunReport starts an empty report
func NewRunReport(started time.Time, lookback time.Duration) *RunReport {
	return &RunReport{
		ID:        uuid.New().String(),
		StartedAt: started,
		Lookback:  lookback,
	}
}

// Add appends a result and updates the aggregate counts
func (r *RunReport) Add(res SourceResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeSkipped:
		r.Counts.Skipped++
		return
	case OutcomeUpdated:
		r.Counts.Updated++
	case OutcomeUnchanged:
		r.Counts.Unchanged++
	case OutcomeError:
		r.Counts.Errored++
	}
	r.Counts.Checked++
}

// Finish stamps the finish time and orders results by source id
func (r *RunReport) Finish(at time.Time) {
	r.FinishedAt = at
	sort.SliceStable(r.Results, func(i, j int) bool {
		return r.Results[i].SourceID < r.Results[j].SourceID
	})
}

// HasErrors returns true if any source ended in ERROR
func (r *RunReport) HasErrors() bool {
	return r.Counts.Errored > 0
}

// HasChanges returns true if any source was updated
func (r *RunReport) HasChanges() bool {
	return r.Counts.Updated > 0
}

// Result returns the result for a source id
func (r *RunReport) Result(sourceID string) (*SourceResult, bool) {
	for i := range r.Results {
		if r.Results[i].SourceID == sourceID {
			return &r.Results[i], true
		}
	}
	return nil, false
}

// ResultsByOutcome returns all results with the given outcome
func (r *RunReport) ResultsByOutcome(o Outcome) []SourceResult {
	var filtered []SourceResult
	for _, res := range r.Results {
		if res.Outcome == o {
			filtered = append(filtered, res)
		}
	}
	return filtered
}

// Duration returns the wall time of the run
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
