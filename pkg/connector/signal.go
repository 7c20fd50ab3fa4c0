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

// Signal is the group-chat channel, delivered through a
// signal-cli-rest-api bridge.
type Signal struct {
	cfg        config.SignalConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSignal creates the group-chat adapter.
func NewSignal(cfg config.SignalConfig, logger *slog.Logger) *Signal {
	return &Signal{
		cfg:        cfg,
		httpClient: newHTTPClient(10 * time.Second),
		logger:     logger,
	}
}

// Channel implements Sender.
func (s *Signal) Channel() string { return ChannelGroupChat }

// Send implements Sender. A target address overrides the configured
// default group.
func (s *Signal) Send(ctx context.Context, msg Message) error {
	groupID := msg.Address
	if groupID == "" {
		groupID = s.cfg.TargetGroupID
	}
	payload := map[string]any{
		"message": msg.Title + "\n" + msg.Body,
		"groupId": groupID,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling group-chat payload: %w", err)
	}

	err = retryHTTP(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint+s.cfg.SendPath, bytes.NewReader(b))
		if err != nil {
			return fmt.Errorf("creating group-chat request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing group-chat request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("group-chat bridge error (status %d): %s", resp.StatusCode, string(respBody))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sending group-chat message: %w", err)
	}
	return nil
}
