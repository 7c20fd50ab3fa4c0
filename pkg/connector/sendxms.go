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

// SendXMS is the sms channel: a JSON POST per message to the gateway.
type SendXMS struct {
	cfg        config.SMSConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSendXMS creates the sms adapter.
func NewSendXMS(cfg config.SMSConfig, logger *slog.Logger) *SendXMS {
	return &SendXMS{
		cfg:        cfg,
		httpClient: newHTTPClient(10 * time.Second),
		logger:     logger,
	}
}

// Channel implements Sender.
func (s *SendXMS) Channel() string { return ChannelSMS }

// Send implements Sender. The target address is the recipient number.
func (s *SendXMS) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"to":      msg.Address,
		"message": msg.Title + "\n" + msg.Body,
		"from":    s.cfg.From,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling sms payload: %w", err)
	}

	err = retryHTTP(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+s.cfg.SendPath, bytes.NewReader(b))
		if err != nil {
			return fmt.Errorf("creating sms request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing sms request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("sms gateway error (status %d): %s", resp.StatusCode, string(respBody))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sending sms: %w", err)
	}
	return nil
}
