package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/groblegark/pairlock/internal/model"
)

// maxCommandDisplay caps how much of a command is shown in outbound
// notifications. Webhook receivers (chat channels, phones) only need enough
// to recognize the command.
const maxCommandDisplay = 140

// WebhookPayload is the JSON body POSTed for each alert. Command always
// carries the redacted display form when one exists.
type WebhookPayload struct {
	Event      Event     `json:"event"`
	RequestID  string    `json:"request_id"`
	Command    string    `json:"command"`
	Tier       string    `json:"tier"`
	Requestor  string    `json:"requestor"`
	Timestamp  time.Time `json:"timestamp"`
	ApprovedBy string    `json:"approved_by,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
}

// Webhook delivers alerts to a single HTTP endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook returns a webhook sink for the given URL.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send POSTs the payload as JSON. Any non-2xx response is an error.
func (w *Webhook) Send(ctx context.Context, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

func buildPayload(req *model.Request, event Event, exitCode *int, approvedBy string) WebhookPayload {
	return WebhookPayload{
		Event:      event,
		RequestID:  req.ID,
		Command:    truncateCommand(req.Command.Display()),
		Tier:       string(req.RiskTier),
		Requestor:  req.RequestorAgent,
		Timestamp:  time.Now().UTC(),
		ApprovedBy: approvedBy,
		ExitCode:   exitCode,
	}
}

// truncateCommand shortens a command to maxCommandDisplay runes, appending
// an ellipsis when anything was cut.
func truncateCommand(s string) string {
	runes := []rune(s)
	if len(runes) <= maxCommandDisplay {
		return s
	}
	return string(runes[:maxCommandDisplay]) + "…"
}
