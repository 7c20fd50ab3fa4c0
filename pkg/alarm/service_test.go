package alarm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/redbutton/internal/apperr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type eventRecorder struct {
	acked        []uuid.UUID
	stateChanged []uuid.UUID
}

func (r *eventRecorder) AlarmAcked(_ context.Context, id uuid.UUID) error {
	r.acked = append(r.acked, id)
	return nil
}

func (r *eventRecorder) AlarmStateChanged(_ context.Context, id uuid.UUID, _, _ Status, _ string) error {
	r.stateChanged = append(r.stateChanged, id)
	return nil
}

// outcome is one scripted answer for a transition attempt.
type outcome struct {
	changed bool
	old     Status
	err     error
}

// newFakeService wires a Service whose transitions are answered from a
// table instead of a database.
func newFakeService(events EventSink, outcomes map[uuid.UUID]outcome) *Service {
	s := &Service{
		events: events,
		logger: testLogger(),
		now:    func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) },
	}
	s.apply = func(_ context.Context, id uuid.UUID, _ Status, _, _ string, _ bool) (bool, Status, error) {
		out, ok := outcomes[id]
		if !ok {
			return false, "", apperr.NotFound("alarm not found")
		}
		return out.changed, out.old, out.err
	}
	return s
}

func TestBulkTransitionAccounting(t *testing.T) {
	triggered := uuid.New()
	resolved := uuid.New()
	conflicted := uuid.New()
	missing := uuid.New()

	events := &eventRecorder{}
	svc := newFakeService(events, map[uuid.UUID]outcome{
		triggered:  {changed: true, old: StatusTriggered},
		resolved:   {changed: false, old: StatusResolved},
		conflicted: {err: apperr.Conflict("transition RESOLVED -> CANCELLED not allowed")},
	})

	res, err := svc.BulkTransition(context.Background(),
		[]uuid.UUID{triggered, resolved, conflicted, missing},
		StatusCancelled, "ops", "sweep")
	if err != nil {
		t.Fatalf("BulkTransition() error: %v", err)
	}

	if res.Requested != 4 {
		t.Errorf("Requested = %d, want 4", res.Requested)
	}
	if res.Changed != 1 {
		t.Errorf("Changed = %d, want 1", res.Changed)
	}
	if res.Unchanged != 2 {
		t.Errorf("Unchanged = %d, want 2 (no-op plus conflict)", res.Unchanged)
	}
	if len(res.Missing) != 1 || res.Missing[0] != missing {
		t.Errorf("Missing = %v, want [%s]", res.Missing, missing)
	}
	if got := res.Changed + res.Unchanged + len(res.Missing); got != res.Requested {
		t.Errorf("changed+unchanged+missing = %d, want requested %d", got, res.Requested)
	}

	if len(events.stateChanged) != 1 || events.stateChanged[0] != triggered {
		t.Errorf("state-changed events = %v, want only the changed alarm", events.stateChanged)
	}
	if len(events.acked) != 0 {
		t.Errorf("acked events = %v, want none for a cancel batch", events.acked)
	}
}

func TestBulkTransitionAcknowledgeEmitsAcked(t *testing.T) {
	id := uuid.New()
	events := &eventRecorder{}
	svc := newFakeService(events, map[uuid.UUID]outcome{
		id: {changed: true, old: StatusTriggered},
	})

	res, err := svc.BulkTransition(context.Background(), []uuid.UUID{id}, StatusAcknowledged, "dana", "")
	if err != nil {
		t.Fatalf("BulkTransition() error: %v", err)
	}
	if res.Changed != 1 {
		t.Errorf("Changed = %d, want 1", res.Changed)
	}
	if len(events.acked) != 1 || events.acked[0] != id {
		t.Errorf("acked events = %v, want [%s]", events.acked, id)
	}
}

func TestBulkTransitionAbortsOnHardFailure(t *testing.T) {
	healthy := uuid.New()
	broken := uuid.New()
	svc := newFakeService(&eventRecorder{}, map[uuid.UUID]outcome{
		healthy: {changed: true, old: StatusTriggered},
		broken:  {err: apperr.Wrap(apperr.KindTransient, "starting transaction", errors.New("pool exhausted"))},
	})

	res, err := svc.BulkTransition(context.Background(), []uuid.UUID{healthy, broken}, StatusResolved, "ops", "")
	if err == nil {
		t.Fatal("a transient store failure must abort the batch")
	}
	if res.Changed != 1 {
		t.Errorf("Changed = %d, want the work done before the failure", res.Changed)
	}
}
