// Package connector holds the outbound channel adapters. Every adapter
// satisfies the Sender port; the orchestrator never sees vendor detail
// beyond a channel tag and an error.
package connector

import (
	"context"
	"net/http"
	"time"
)

// Channel tags carried on escalation targets.
const (
	ChannelTicket    = "ticket"
	ChannelSMS       = "sms"
	ChannelGroupChat = "group_chat"
	ChannelWebhook   = "webhook"
)

// ValidChannel reports whether c is a known channel tag.
func ValidChannel(c string) bool {
	switch c {
	case ChannelTicket, ChannelSMS, ChannelGroupChat, ChannelWebhook:
		return true
	}
	return false
}

// Message is the channel-agnostic notification payload. Address is the
// target-specific destination (phone number, group id, URL) from the
// escalation target.
type Message struct {
	AlarmID  string
	Title    string
	Body     string
	Tags     []string
	Priority int
	StepNo   int
	AckURL   string
	Address  string
}

// Sender is the uniform outbound port.
type Sender interface {
	// Channel returns the channel tag this sender serves.
	Channel() string
	// Send delivers one message. Retries happen inside; the returned
	// error is the final outcome.
	Send(ctx context.Context, msg Message) error
}

// Registry maps channel tags to their bound sender.
type Registry struct {
	senders map[string]Sender
}

// NewRegistry builds a registry from the given senders.
func NewRegistry(senders ...Sender) *Registry {
	m := make(map[string]Sender, len(senders))
	for _, s := range senders {
		m[s.Channel()] = s
	}
	return &Registry{senders: m}
}

// Get returns the sender for a channel tag, or nil when the channel is
// not configured.
func (r *Registry) Get(channel string) Sender {
	return r.senders[channel]
}

// newHTTPClient is the shared outbound client factory: connection reuse
// per host, one overall timeout per call.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
