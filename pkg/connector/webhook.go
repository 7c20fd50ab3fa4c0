package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/redbutton/internal/config"
)

// Webhook posts signed JSON callbacks. State-changed deliveries write
// one audit row per attempt through the audit callback; plain Send is
// the escalation-target variant with a single aggregate outcome.
type Webhook struct {
	cfg        config.WebhookConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhook creates the webhook adapter.
func NewWebhook(cfg config.WebhookConfig, logger *slog.Logger) *Webhook {
	return &Webhook{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg.Timeout),
		logger:     logger,
	}
}

// Channel implements Sender.
func (w *Webhook) Channel() string { return ChannelWebhook }

// Send implements Sender. The target address overrides the configured
// callback URL.
func (w *Webhook) Send(ctx context.Context, msg Message) error {
	url := msg.Address
	if url == "" {
		url = w.cfg.URL
	}
	payload := map[string]any{
		"alarm_id": msg.AlarmID,
		"title":    msg.Title,
		"body":     msg.Body,
		"step_no":  msg.StepNo,
		"tags":     msg.Tags,
	}
	return retryHTTP(ctx, func() error {
		return w.post(ctx, url, payload)
	})
}

// AttemptFn records one delivery attempt. result is ok, error or
// timeout.
type AttemptFn func(attempt int, result string, errMsg string)

// Deliver posts a state-changed event with up to MaxRetries attempts,
// exponential delay between them, and one audit record per attempt.
func (w *Webhook) Deliver(ctx context.Context, event any, audit AttemptFn) error {
	if !w.cfg.Enabled {
		return nil
	}

	var lastErr error
	delay := time.Second
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		err := w.post(ctx, w.cfg.URL, event)
		if err == nil {
			audit(attempt, "ok", "")
			return nil
		}
		lastErr = err

		result := "error"
		if IsTimeout(err) {
			result = "timeout"
		}
		audit(attempt, result, err.Error())

		if attempt < w.cfg.MaxRetries {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", w.cfg.MaxRetries, lastErr)
}

func (w *Webhook) post(ctx context.Context, url string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling webhook payload: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.Secret != "" {
		req.Header.Set("X-Webhook-Secret", w.cfg.Secret)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing webhook request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook endpoint error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}
