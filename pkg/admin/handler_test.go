package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wisbric/redbutton/pkg/escalation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler() *Handler {
	esc := escalation.NewService(nil, escalation.NewStore(nil), testLogger())
	return NewHandler(nil, nil, esc, testLogger())
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUpsertDeviceRejectsMissingToken(t *testing.T) {
	h := newTestHandler().Routes()

	rec := postJSON(t, h, "/devices", `{"id": "d1"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}

	rec = postJSON(t, h, "/devices", `{"id": "d1", "device_token": "short"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("short token status = %d, want 422", rec.Code)
	}
}

func TestUpsertDeviceRejectsUnknownFields(t *testing.T) {
	h := newTestHandler().Routes()
	rec := postJSON(t, h, "/devices", `{"id": "d1", "device_token": "tok-12345", "surprise": true}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown field", rec.Code)
	}
}

func TestUpsertPolicyRejectsDuplicateSteps(t *testing.T) {
	h := newTestHandler().Routes()
	rec := postJSON(t, h, "/escalation-policy", `{
		"id": "p1", "name": "Default",
		"steps": [
			{"step_no": 1, "target_id": "t1", "after_seconds": 60},
			{"step_no": 1, "target_id": "t1", "after_seconds": 90}
		]
	}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 for duplicate (step, target)", rec.Code)
	}
}

func TestUpsertPolicyRejectsMissingName(t *testing.T) {
	h := newTestHandler().Routes()
	rec := postJSON(t, h, "/escalation-policy", `{"id": "p1"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestSeedRejectsMalformedPayload(t *testing.T) {
	h := newTestHandler().Routes()
	rec := postJSON(t, h, "/seed", `{broken`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for malformed seed", rec.Code)
	}
}
