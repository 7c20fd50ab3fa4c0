package connector

import (
	"context"
	"sync"
	"time"
)

// Captured is one notification recorded by the simulation store.
type Captured struct {
	Channel string    `json:"channel"`
	Message Message   `json:"message"`
	At      time.Time `json:"at"`
}

// MockStore is the in-memory connector backing for simulation mode: a
// bounded ring of recent notifications shared by all mock senders.
type MockStore struct {
	mu  sync.Mutex
	buf []Captured
	max int
}

// NewMockStore creates a store keeping at most max notifications.
func NewMockStore(max int) *MockStore {
	if max <= 0 {
		max = 200
	}
	return &MockStore{max: max}
}

// Sender returns a mock Sender recording into this store under the
// given channel tag.
func (m *MockStore) Sender(channel string) Sender {
	return &mockSender{channel: channel, store: m}
}

// Notifications returns captured entries, newest last. An empty channel
// returns everything.
func (m *MockStore) Notifications(channel string) []Captured {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Captured, 0, len(m.buf))
	for _, c := range m.buf {
		if channel == "" || c.Channel == channel {
			out = append(out, c)
		}
	}
	return out
}

// Clear drops all captured notifications.
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = nil
}

// Count returns the number of captured notifications.
func (m *MockStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf)
}

func (m *MockStore) add(c Captured) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = append(m.buf, c)
	if len(m.buf) > m.max {
		m.buf = m.buf[len(m.buf)-m.max:]
	}
}

type mockSender struct {
	channel string
	store   *MockStore
}

func (s *mockSender) Channel() string { return s.channel }

func (s *mockSender) Send(_ context.Context, msg Message) error {
	s.store.add(Captured{Channel: s.channel, Message: msg, At: time.Now().UTC()})
	return nil
}
