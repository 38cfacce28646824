package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"esg-mcp/internal/resilience"
)

// Webhook posts alerts as JSON to a URL.
type Webhook struct {
	url    string
	client *http.Client
	policy resilience.Policy
}

// NewWebhook creates a webhook notifier. 5xx and 429 responses are retried under policy.
func NewWebhook(url string, policy resilience.Policy) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		policy: policy,
	}
}

func (w *Webhook) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	_, err = w.policy.Do(ctx, "webhook", func(ctx context.Context) error {
		return w.post(ctx, body)
	})
	return err
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return resilience.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &resilience.RateLimitError{Err: err}
	case resp.StatusCode >= 500:
		return err
	default:
		return resilience.Permanent(err)
	}
}
