package connector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wisbric/redbutton/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMockStoreRingAndFilter(t *testing.T) {
	store := NewMockStore(3)
	sms := store.Sender(ChannelSMS)
	chat := store.Sender(ChannelGroupChat)

	for i := 0; i < 4; i++ {
		if err := sms.Send(context.Background(), Message{Title: fmt.Sprintf("sms-%d", i)}); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
	}
	if err := chat.Send(context.Background(), Message{Title: "chat-0"}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if got := store.Count(); got != 3 {
		t.Errorf("Count() = %d, want ring bound 3", got)
	}
	if got := len(store.Notifications(ChannelGroupChat)); got != 1 {
		t.Errorf("group-chat entries = %d, want 1", got)
	}
	if got := len(store.Notifications("")); got != 3 {
		t.Errorf("unfiltered entries = %d, want 3", got)
	}

	store.Clear()
	if store.Count() != 0 {
		t.Error("Clear() left entries behind")
	}
}

func TestMockStoreConcurrentWrites(t *testing.T) {
	store := NewMockStore(50)
	sender := store.Sender(ChannelSMS)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sender.Send(context.Background(), Message{Title: "x"})
		}()
	}
	wg.Wait()

	if got := store.Count(); got != 20 {
		t.Errorf("Count() = %d, want 20", got)
	}
}

func TestWebhookDeliverAuditsEveryAttempt(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.Header.Get("X-Webhook-Secret"); got != "hush" {
			t.Errorf("secret header = %q, want hush", got)
		}
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := NewWebhook(config.WebhookConfig{
		Enabled:    true,
		URL:        srv.URL,
		Secret:     "hush",
		Timeout:    2 * time.Second,
		MaxRetries: 3,
	}, testLogger())

	var audits []string
	err := hook.Deliver(context.Background(), map[string]string{"event": "state_changed"},
		func(attempt int, result, errMsg string) {
			audits = append(audits, fmt.Sprintf("%d:%s", attempt, result))
		})
	if err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}

	want := []string{"1:error", "2:error", "3:ok"}
	if len(audits) != len(want) {
		t.Fatalf("audit rows = %v, want %v", audits, want)
	}
	for i := range want {
		if audits[i] != want[i] {
			t.Errorf("audit[%d] = %q, want %q", i, audits[i], want[i])
		}
	}
}

func TestWebhookDeliverExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hook := NewWebhook(config.WebhookConfig{
		Enabled:    true,
		URL:        srv.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	}, testLogger())

	var attempts int
	err := hook.Deliver(context.Background(), map[string]string{}, func(int, string, string) { attempts++ })
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestWebhookDisabledIsNoop(t *testing.T) {
	hook := NewWebhook(config.WebhookConfig{Enabled: false, Timeout: time.Second, MaxRetries: 3}, testLogger())
	err := hook.Deliver(context.Background(), nil, func(int, string, string) {
		t.Error("disabled webhook must not attempt delivery")
	})
	if err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
}
