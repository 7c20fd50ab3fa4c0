package simulation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wisbric/redbutton/pkg/connector"
)

func TestRoutes404WhenDisabled(t *testing.T) {
	h := NewHandler(nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	for _, path := range []string{"/notifications", "/status"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, resp.StatusCode)
		}
	}
	resp, err := http.Post(srv.URL+"/notifications/clear", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("POST /notifications/clear = %d, want 404", resp.StatusCode)
	}
}

func TestListFilterAndClear(t *testing.T) {
	store := connector.NewMockStore(10)
	_ = store.Sender(connector.ChannelSMS).Send(context.Background(), connector.Message{Title: "a"})
	_ = store.Sender(connector.ChannelGroupChat).Send(context.Background(), connector.Message{Title: "b"})

	h := NewHandler(store)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	var body struct {
		Count int                  `json:"count"`
		Items []connector.Captured `json:"items"`
	}
	resp, err := http.Get(srv.URL + "/notifications?channel=sms")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if body.Count != 1 || len(body.Items) != 1 {
		t.Errorf("filtered count = %d, want 1", body.Count)
	}

	resp, err = http.Get(srv.URL + "/notifications?channel=carrier-pigeon")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown channel = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/notifications/clear", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("clear = %d, want 200", resp.StatusCode)
	}
	if store.Count() != 0 {
		t.Error("clear left captured notifications")
	}
}
