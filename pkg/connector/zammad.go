package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/wisbric/redbutton/internal/config"
)

// Zammad is the ticket channel: REST tickets plus internal notes for
// the acknowledgment follow-up.
type Zammad struct {
	cfg        config.ZammadConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewZammad creates the ticket adapter.
func NewZammad(cfg config.ZammadConfig, logger *slog.Logger) *Zammad {
	return &Zammad{
		cfg:        cfg,
		httpClient: newHTTPClient(10 * time.Second),
		logger:     logger,
	}
}

// Channel implements Sender.
func (z *Zammad) Channel() string { return ChannelTicket }

// Send implements Sender by opening a ticket for the message.
func (z *Zammad) Send(ctx context.Context, msg Message) error {
	_, err := z.CreateTicket(ctx, msg)
	return err
}

// ticketResponse is the subset of the ticket reply we read.
type ticketResponse struct {
	ID int `json:"id"`
}

// CreateTicket opens a ticket and returns its id as a string, suitable
// for stamping on the alarm.
func (z *Zammad) CreateTicket(ctx context.Context, msg Message) (string, error) {
	payload := map[string]any{
		"title":       msg.Title,
		"group":       z.cfg.Group,
		"customer_id": z.cfg.Customer,
		"priority_id": z.cfg.PriorityIDP0,
		"state_id":    z.cfg.StateIDNew,
		"article": map[string]any{
			"subject":      msg.Title,
			"body":         msg.Body,
			"type":         "note",
			"internal":     false,
			"content_type": "text/plain",
		},
	}

	var ticketID string
	err := retryHTTP(ctx, func() error {
		var resp ticketResponse
		if err := z.do(ctx, http.MethodPost, "/api/v1/tickets", payload, &resp); err != nil {
			return err
		}
		ticketID = strconv.Itoa(resp.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("creating ticket: %w", err)
	}
	return ticketID, nil
}

// AddInternalNote appends an internal article to an existing ticket.
func (z *Zammad) AddInternalNote(ctx context.Context, ticketID, body string) error {
	payload := map[string]any{
		"article": map[string]any{
			"body":         body,
			"type":         "note",
			"internal":     true,
			"content_type": "text/plain",
		},
	}
	err := retryHTTP(ctx, func() error {
		return z.do(ctx, http.MethodPut, "/api/v1/tickets/"+ticketID, payload, nil)
	})
	if err != nil {
		return fmt.Errorf("adding ticket note: %w", err)
	}
	return nil
}

func (z *Zammad) do(ctx context.Context, method, path string, body, result any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling ticket payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, z.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("creating ticket request: %w", err)
	}
	req.Header.Set("Authorization", "Token token="+z.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := z.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing ticket request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ticket API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding ticket response: %w", err)
		}
	}
	return nil
}
