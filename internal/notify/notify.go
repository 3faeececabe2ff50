// Package notify delivers user-facing notifications and resolves resource
// paths for their payloads.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"collabsync/internal/models"
)

// Dispatcher posts a structured notification for display. Callers treat it
// fire-and-forget: delivery confirmation is not awaited.
type Dispatcher interface {
	Post(ctx context.Context, n models.Notification) error
}

// Webhook posts notifications as JSON to a configured sink URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a dispatcher for the given sink.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Post sends the notification. Non-2xx responses are errors so callers can
// clear pending-tag bookkeeping and allow a retry.
func (w *Webhook) Post(ctx context.Context, n models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification sink returned %d", resp.StatusCode)
	}
	return nil
}
