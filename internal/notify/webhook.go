package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/yairfalse/rankwatch/internal/differ"
	"github.com/yairfalse/rankwatch/pkg/types"
)

// Webhook formats
const (
	FormatJSON  = "json"
	FormatSlack = "slack"
)

// WebhookPayload is the body posted in json format
type WebhookPayload struct {
	Timestamp time.Time       `json:"timestamp"`
	RunID     string          `json:"run_id"`
	CheckOnly bool            `json:"check_only,omitempty"`
	Summary   types.RunCounts `json:"summary"`
	Sources   []WebhookSource `json:"sources"`
	Metadata  WebhookMetadata `json:"metadata"`
}

// WebhookSource is one source line of a webhook payload
type WebhookSource struct {
	SourceID string               `json:"source_id"`
	Outcome  types.Outcome        `json:"outcome"`
	Rows     int                  `json:"rows"`
	Reason   string               `json:"reason,omitempty"`
	Error    string               `json:"error,omitempty"`
	Changes  *types.ChangeSummary `json:"changes,omitempty"`
}

// WebhookMetadata provides additional context
type WebhookMetadata struct {
	Lookback string `json:"lookback"`
	Version  string `json:"version"`
}

// Webhook posts run reports to an HTTP endpoint
type Webhook struct {
	url     string
	format  string
	version string
	client  *resty.Client
}

// NewWebhook creates a webhook notifier. format is json or slack.
func NewWebhook(url, format, version string) *Webhook {
	if format == "" {
		format = FormatSlack
	}
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetHeader("Content-Type", "application/json")
	return &Webhook{url: url, format: format, version: version, client: client}
}

// Notify implements Notifier
func (w *Webhook) Notify(ctx context.Context, report *types.RunReport) error {
	if w.url == "" {
		return nil
	}

	var body interface{}
	switch w.format {
	case FormatSlack:
		body = w.buildSlackPayload(report)
	default:
		body = w.buildPayload(report)
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode())
	}
	return nil
}

func (w *Webhook) buildPayload(report *types.RunReport) WebhookPayload {
	payload := WebhookPayload{
		Timestamp: report.FinishedAt,
		RunID:     report.ID,
		CheckOnly: report.CheckOnly,
		Summary:   report.Counts,
		Metadata: WebhookMetadata{
			Lookback: report.Lookback.String(),
			Version:  w.version,
		},
	}
	for _, res := range report.Results {
		src := WebhookSource{
			SourceID: res.SourceID,
			Outcome:  res.Outcome,
			Rows:     res.RowCount,
			Reason:   res.Reason,
			Error:    res.Error,
		}
		if res.Changes != nil {
			s := differ.Summarize(res.Changes)
			src.Changes = &s
		}
		payload.Sources = append(payload.Sources, src)
	}
	return payload
}

func (w *Webhook) buildSlackPayload(report *types.RunReport) map[string]interface{} {
	fields := []map[string]interface{}{
		{
			"title": "Summary",
			"value": fmt.Sprintf("%d checked (%d updated, %d unchanged, %d skipped, %d failed)",
				report.Counts.Checked, report.Counts.Updated, report.Counts.Unchanged,
				report.Counts.Skipped, report.Counts.Errored),
			"short": false,
		},
	}

	var updated, failed []string
	for _, res := range report.Results {
		switch res.Outcome {
		case types.OutcomeUpdated:
			updated = append(updated, fmt.Sprintf("%s: %s", res.SourceID, changeLine(res.Changes)))
		case types.OutcomeError:
			failed = append(failed, fmt.Sprintf("%s: %s", res.SourceID, res.Error))
		}
	}
	if len(updated) > 0 {
		fields = append(fields, map[string]interface{}{
			"title": "Updated",
			"value": fmt.Sprintf("```\n%s\n```", strings.Join(updated, "\n")),
			"short": false,
		})
	}
	if len(failed) > 0 {
		fields = append(fields, map[string]interface{}{
			"title": "Failed",
			"value": fmt.Sprintf("```\n%s\n```", strings.Join(failed, "\n")),
			"short": false,
		})
	}

	return map[string]interface{}{
		"text": Subject(report),
		"attachments": []map[string]interface{}{
			{
				"color":  slackColor(report),
				"fields": fields,
			},
		},
	}
}

// slackColor returns the attachment color for a report
func slackColor(report *types.RunReport) string {
	switch {
	case report.Counts.Errored > 0:
		return "danger"
	case report.Counts.Updated > 0:
		return "warning"
	default:
		return "good"
	}
}
