// Package webhook implements an HTTP webhook notifier
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/newthinker/stratsync/internal/notifier"
)

// Config for one webhook receiver.
type Config struct {
	// Name distinguishes several webhooks; defaults to "webhook".
	Name    string
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// Webhook implements the Notifier interface for HTTP webhooks
type Webhook struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

var _ notifier.Notifier = (*Webhook)(nil)

// New creates a new Webhook notifier
func New(cfg Config) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}
	if cfg.Name == "" {
		cfg.Name = "webhook"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Webhook{
		name:    cfg.Name,
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (w *Webhook) Name() string { return w.name }

type payload struct {
	Count  int              `json:"count"`
	Events []notifier.Event `json:"events"`
	SentAt time.Time        `json:"sent_at"`
}

// Notify posts all events in a single JSON body.
func (w *Webhook) Notify(ctx context.Context, events []notifier.Event) error {
	if len(events) == 0 {
		return nil
	}

	body, err := json.Marshal(payload{Count: len(events), Events: events, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("webhook: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: server returned %d", resp.StatusCode)
	}

	return nil
}
