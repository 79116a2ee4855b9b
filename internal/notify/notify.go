// Package notify delivers pipeline events to the downstream collaborator
// webhook: terminal job outcomes and review-SLA breaches.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gramveda/claim-intake/internal/config"
	"github.com/gramveda/claim-intake/internal/model"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventJobFinished   EventType = "job_finished"
	EventReviewOverdue EventType = "review_overdue"
)

// Event is the webhook payload.
type Event struct {
	Type       EventType      `json:"type"`
	JobID      string         `json:"job_id,omitempty"`
	RegionCode string         `json:"region_code,omitempty"`
	Outcome    model.Outcome  `json:"outcome,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Notifier receives pipeline events. Delivery failures are never fatal to the
// pipeline; callers log and move on.
type Notifier interface {
	JobFinished(ctx context.Context, job *model.Job) error
	ReviewOverdue(ctx context.Context, jobs []model.Job) error
}

// Webhook posts events to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier. An empty URL yields a notifier that
// silently drops events.
func NewWebhook(cfg config.NotifyConfig) *Webhook {
	return &Webhook{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// JobFinished reports a terminal outcome.
func (w *Webhook) JobFinished(ctx context.Context, job *model.Job) error {
	ev := Event{
		Type:       EventJobFinished,
		JobID:      job.ID,
		RegionCode: job.RegionCode,
		Outcome:    job.Outcome,
		Timestamp:  time.Now().UTC(),
	}
	if job.LastError != "" {
		ev.Details = map[string]any{"last_error": job.LastError}
	}
	return w.send(ctx, ev)
}

// ReviewOverdue reports jobs that have sat in the review queue past the SLA.
func (w *Webhook) ReviewOverdue(ctx context.Context, jobs []model.Job) error {
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	return w.send(ctx, Event{
		Type:      EventReviewOverdue,
		Details:   map[string]any{"job_ids": ids, "count": len(ids)},
		Timestamp: time.Now().UTC(),
	})
}

func (w *Webhook) send(ctx context.Context, ev Event) error {
	if w.url == "" {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
