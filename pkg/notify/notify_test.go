package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/redbutton/pkg/alarm"
	"github.com/wisbric/redbutton/pkg/connector"
	"github.com/wisbric/redbutton/pkg/directory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleAlarm(severity string) alarm.Alarm {
	return alarm.Alarm{
		ID:        uuid.MustParse("7b3e5a02-1111-4222-8333-944445555666"),
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Severity:  severity,
		Silent:    severity == alarm.SeverityP0,
	}
}

func TestBuildPayloadTitles(t *testing.T) {
	dctx := directory.Context{PersonName: "Dana Voss", RoomLabel: "Room 214", SiteName: "North Wing"}

	tests := []struct {
		name      string
		stepNo    int
		wantTitle string
	}{
		{"initial fan-out", 0, "EMERGENCY ALARM - Dana Voss - Room 214"},
		{"first escalation", 1, "ESCALATION stage 1 - Dana Voss - Room 214"},
		{"third escalation", 3, "ESCALATION stage 3 - Dana Voss - Room 214"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := BuildPayload(sampleAlarm(alarm.SeverityP0), dctx, tt.stepNo, "https://example.test/a/x")
			if p.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", p.Title, tt.wantTitle)
			}
			if p.StepNo != tt.stepNo {
				t.Errorf("StepNo = %d, want %d", p.StepNo, tt.stepNo)
			}
		})
	}
}

func TestBuildPayloadTagsAndPriority(t *testing.T) {
	dctx := directory.Context{PersonName: "Dana Voss", RoomLabel: "Room 214"}

	p := BuildPayload(sampleAlarm(alarm.SeverityP0), dctx, 0, "https://example.test/a/x")
	if got, want := strings.Join(p.Tags, ","), "emergency,silent"; got != want {
		t.Errorf("step-0 P0 tags = %q, want %q", got, want)
	}
	if p.Priority != 3 {
		t.Errorf("P0 priority = %d, want 3", p.Priority)
	}

	p = BuildPayload(sampleAlarm(alarm.SeverityP2), dctx, 2, "https://example.test/a/x")
	if len(p.Tags) != 0 {
		t.Errorf("step-2 P2 tags = %v, want none", p.Tags)
	}
	if p.Priority != 2 {
		t.Errorf("P2 priority = %d, want 2", p.Priority)
	}

	if got := Priority(alarm.SeverityP3); got != 1 {
		t.Errorf("P3 priority = %d, want 1", got)
	}
	if got := Priority("bogus"); got != 1 {
		t.Errorf("unknown severity priority = %d, want lowest", got)
	}
}

func TestBuildPayloadBody(t *testing.T) {
	dctx := directory.Context{PersonName: "Dana Voss", RoomLabel: "Room 214", SiteName: "North Wing"}
	a := sampleAlarm(alarm.SeverityP0)

	p := BuildPayload(a, dctx, 1, "https://example.test/a/tok")

	for _, want := range []string{
		"EMERGENCY ALARM (silent)",
		"Alarm ID: " + a.ID.String(),
		"Person: Dana Voss",
		"Location: Room 214 (North Wing)",
		"Time: 2026-03-14T09:26:53Z",
		"Stage: 1",
		"Acknowledge: https://example.test/a/tok",
	} {
		if !strings.Contains(p.Body, want) {
			t.Errorf("Body missing %q:\n%s", want, p.Body)
		}
	}
}

type auditRecorder struct {
	rows []alarm.Notification
	err  error
}

func (r *auditRecorder) CreateNotification(_ context.Context, n alarm.Notification) error {
	r.rows = append(r.rows, n)
	return r.err
}

type failingSender struct {
	channel string
	err     error
}

func (s *failingSender) Channel() string { return s.channel }

func (s *failingSender) Send(context.Context, connector.Message) error { return s.err }

func TestDispatchIsolatesTargetFailures(t *testing.T) {
	mock := connector.NewMockStore(10)
	registry := connector.NewRegistry(
		mock.Sender(connector.ChannelSMS),
		&failingSender{channel: connector.ChannelGroupChat, err: errors.New("bridge down")},
	)
	audit := &auditRecorder{}
	orch := NewOrchestrator(registry, audit, testLogger())

	a := sampleAlarm(alarm.SeverityP0)
	payload := BuildPayload(a, directory.Context{PersonName: "Dana Voss", RoomLabel: "Room 214"}, 0, "https://example.test/a/x")

	targets := []Target{
		{ID: "t-sms", Channel: connector.ChannelSMS, Address: "+4915200000000"},
		{ID: "t-chat", Channel: connector.ChannelGroupChat},
		{ID: "t-ghost", Channel: connector.ChannelTicket},
	}
	sent := orch.Dispatch(context.Background(), a.ID, payload, targets)

	if sent != 1 {
		t.Errorf("Dispatch() sent = %d, want 1", sent)
	}
	if len(audit.rows) != 3 {
		t.Fatalf("audit rows = %d, want one per target", len(audit.rows))
	}

	byTarget := map[string]alarm.Notification{}
	for _, row := range audit.rows {
		if row.TargetID == nil {
			t.Fatal("audit row missing target id")
		}
		byTarget[*row.TargetID] = row
	}
	if byTarget["t-sms"].Result != alarm.ResultOK {
		t.Errorf("sms result = %q, want ok", byTarget["t-sms"].Result)
	}
	if byTarget["t-chat"].Result != alarm.ResultError || byTarget["t-chat"].Error == nil {
		t.Errorf("chat row = %+v, want error with message", byTarget["t-chat"])
	}
	if byTarget["t-ghost"].Result != alarm.ResultError {
		t.Errorf("unbound channel result = %q, want error", byTarget["t-ghost"].Result)
	}

	captured := mock.Notifications(connector.ChannelSMS)
	if len(captured) != 1 {
		t.Fatalf("mock captures = %d, want 1", len(captured))
	}
	if captured[0].Message.Address != "+4915200000000" {
		t.Errorf("address = %q, want target address", captured[0].Message.Address)
	}
}

func TestDispatchAuditsTimeoutDistinctly(t *testing.T) {
	registry := connector.NewRegistry(
		&failingSender{channel: connector.ChannelSMS, err: context.DeadlineExceeded},
	)
	audit := &auditRecorder{}
	orch := NewOrchestrator(registry, audit, testLogger())

	a := sampleAlarm(alarm.SeverityP1)
	payload := BuildPayload(a, directory.Context{PersonName: "Dana Voss", RoomLabel: "Room 214"}, 0, "u")
	orch.Dispatch(context.Background(), a.ID, payload, []Target{{ID: "t1", Channel: connector.ChannelSMS}})

	if len(audit.rows) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(audit.rows))
	}
	if audit.rows[0].Result != alarm.ResultTimeout {
		t.Errorf("result = %q, want timeout", audit.rows[0].Result)
	}
}
