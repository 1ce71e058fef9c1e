package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookSink POSTs each job as JSON to a configured endpoint. Delivery is
// best-effort with no retry; a dead endpoint only costs a log line at the
// call site.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

func NewWebhookSink(url string) WebhookSink {
	return WebhookSink{
		URL:    url,
		Client: &http.Client{Timeout: defaultWebhookTimeout},
	}
}

func (w WebhookSink) Append(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: status %d", w.URL, resp.StatusCode)
	}
	return nil
}

// Fanout appends to every sink, attempting all of them even when some fail.
type Fanout []Sink

func (f Fanout) Append(ctx context.Context, job Job) error {
	var firstErr error
	for _, s := range f {
		if err := s.Append(ctx, job); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
