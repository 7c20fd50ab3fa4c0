package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/redbutton/internal/queue"
	"github.com/wisbric/redbutton/internal/telemetry"
	"github.com/wisbric/redbutton/pkg/alarm"
	"github.com/wisbric/redbutton/pkg/connector"
	"github.com/wisbric/redbutton/pkg/directory"
	"github.com/wisbric/redbutton/pkg/notify"
)

// AlarmSource is the slice of the alarm store the worker needs.
type AlarmSource interface {
	Get(ctx context.Context, id uuid.UUID) (alarm.Alarm, error)
	SetExternalTicket(ctx context.Context, id uuid.UUID, ticketID string) error
}

// Enricher resolves directory bindings to display strings.
type Enricher interface {
	Enrich(ctx context.Context, personID, roomID, siteID *string) (directory.Context, error)
}

// StepSource is the slice of the policy store the worker needs.
type StepSource interface {
	ActivePolicy(ctx context.Context) (Policy, bool, error)
	StepTargets(ctx context.Context, policyID string, stepNo int) ([]Target, error)
	DeferredSteps(ctx context.Context, policyID string) ([]DeferredStep, error)
}

// Ticketer creates external tickets and annotates them later.
type Ticketer interface {
	CreateTicket(ctx context.Context, msg connector.Message) (string, error)
	AddInternalNote(ctx context.Context, ticketID, body string) error
}

// StateDeliverer posts state-changed callbacks with per-attempt audit.
type StateDeliverer interface {
	Deliver(ctx context.Context, event any, audit connector.AttemptFn) error
}

// Producer enqueues follow-up jobs.
type Producer interface {
	EnqueueIn(ctx context.Context, taskName string, payload any, delay time.Duration) error
}

// Worker consumes alarm events. It fans out step 0, schedules deferred
// steps, and guards every deferred dispatch on the alarm still being
// TRIGGERED.
type Worker struct {
	alarms    AlarmSource
	audit     notify.AuditStore
	directory Enricher
	steps     StepSource
	orch      *notify.Orchestrator
	ticketer  Ticketer
	webhook   StateDeliverer
	producer  Producer
	ackURL    func(token string) string
	fallback  []time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// WorkerDeps bundles the worker's collaborators. Ticketer and webhook
// may be nil when the channel is disabled.
type WorkerDeps struct {
	Alarms    AlarmSource
	Audit     notify.AuditStore
	Directory Enricher
	Steps     StepSource
	Orch      *notify.Orchestrator
	Ticketer  Ticketer
	Webhook   StateDeliverer
	Producer  Producer
	AckURL    func(token string) string
	Fallback  []time.Duration
	Logger    *slog.Logger
}

// NewWorker creates the event consumer.
func NewWorker(d WorkerDeps) *Worker {
	return &Worker{
		alarms:    d.Alarms,
		audit:     d.Audit,
		directory: d.Directory,
		steps:     d.Steps,
		orch:      d.Orch,
		ticketer:  d.Ticketer,
		webhook:   d.Webhook,
		producer:  d.Producer,
		ackURL:    d.AckURL,
		fallback:  d.Fallback,
		logger:    d.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register binds the worker's handlers to the task mux.
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TaskAlarmCreated, w.HandleCreated)
	mux.HandleFunc(queue.TaskAlarmEscalate, w.HandleEscalate)
	mux.HandleFunc(queue.TaskAlarmAcked, w.HandleAcked)
	mux.HandleFunc(queue.TaskAlarmStateChanged, w.HandleStateChanged)
}

// HandleCreated runs once per new alarm: external ticket, step-0
// fan-out, and one deferred job per later step.
func (w *Worker) HandleCreated(ctx context.Context, t *asynq.Task) error {
	var p queue.CreatedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decoding created payload: %w", err)
	}
	a, ok, err := w.loadAlarm(ctx, p.AlarmID)
	if err != nil || !ok {
		return err
	}
	if a.Status != alarm.StatusTriggered {
		w.logger.Info("created event for settled alarm, skipping",
			"alarm_id", a.ID, "status", a.Status)
		return nil
	}

	payload, err := w.buildPayload(ctx, a, 0)
	if err != nil {
		return err
	}

	if w.ticketer != nil && a.ExternalTicketID == nil {
		ticketID, err := w.ticketer.CreateTicket(ctx, messageFrom(payload))
		if err != nil {
			w.logger.Error("creating external ticket", "alarm_id", a.ID, "error", err)
		} else if err := w.alarms.SetExternalTicket(ctx, a.ID, ticketID); err != nil {
			w.logger.Error("stamping external ticket id", "alarm_id", a.ID, "error", err)
		}
	}

	policy, found, err := w.steps.ActivePolicy(ctx)
	if err != nil {
		return err
	}
	if !found {
		w.logger.Warn("no escalation policy configured", "alarm_id", a.ID)
		return nil
	}

	if err := w.dispatchStep(ctx, a, policy, payload, 0); err != nil {
		return err
	}

	deferred, err := w.steps.DeferredSteps(ctx, policy.ID)
	if err != nil {
		return err
	}
	for _, step := range deferred {
		delay := w.stepDelay(step)
		err := w.producer.EnqueueIn(ctx, queue.TaskAlarmEscalate,
			queue.EscalatePayload{AlarmID: a.ID.String(), StepNo: step.StepNo}, delay)
		if err != nil {
			return fmt.Errorf("scheduling step %d: %w", step.StepNo, err)
		}
		w.logger.Info("escalation step scheduled",
			"alarm_id", a.ID, "step_no", step.StepNo, "delay", delay)
	}
	return nil
}

// HandleEscalate runs one deferred step. The status guard makes stale
// and out-of-order jobs harmless.
func (w *Worker) HandleEscalate(ctx context.Context, t *asynq.Task) error {
	var p queue.EscalatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decoding escalate payload: %w", err)
	}
	a, ok, err := w.loadAlarm(ctx, p.AlarmID)
	if err != nil || !ok {
		return err
	}
	if a.Status != alarm.StatusTriggered {
		w.logger.Info("escalation skipped",
			"alarm_id", a.ID, "step_no", p.StepNo, "status", a.Status)
		telemetry.EscalationsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	policy, found, err := w.steps.ActivePolicy(ctx)
	if err != nil {
		return err
	}
	if !found {
		w.logger.Warn("escalation step with no policy", "alarm_id", a.ID, "step_no", p.StepNo)
		return nil
	}

	payload, err := w.buildPayload(ctx, a, p.StepNo)
	if err != nil {
		return err
	}
	return w.dispatchStep(ctx, a, policy, payload, p.StepNo)
}

// HandleAcked adds an internal note to the external ticket, when both
// exist.
func (w *Worker) HandleAcked(ctx context.Context, t *asynq.Task) error {
	var p queue.CreatedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decoding acked payload: %w", err)
	}
	a, ok, err := w.loadAlarm(ctx, p.AlarmID)
	if err != nil || !ok {
		return err
	}
	if w.ticketer == nil || a.ExternalTicketID == nil {
		return nil
	}

	body := "Alarm acknowledged."
	if a.AckedBy != nil {
		body += "\nBy: " + *a.AckedBy
	}
	if a.AckedAt != nil {
		body += "\nTime: " + a.AckedAt.UTC().Format(time.RFC3339)
	}
	if note, ok := a.Meta["ack_note"].(string); ok && note != "" {
		body += "\nNote: " + note
	}

	if err := w.ticketer.AddInternalNote(ctx, *a.ExternalTicketID, body); err != nil {
		return fmt.Errorf("annotating ticket %s: %w", *a.ExternalTicketID, err)
	}
	w.logger.Info("ticket annotated after ack", "alarm_id", a.ID)
	return nil
}

// HandleStateChanged posts the webhook callback. Delivery retries and
// per-attempt audit rows happen inside the webhook adapter.
func (w *Worker) HandleStateChanged(ctx context.Context, t *asynq.Task) error {
	var p queue.StateChangedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decoding state-changed payload: %w", err)
	}
	if w.webhook == nil {
		return nil
	}
	alarmID, err := uuid.Parse(p.AlarmID)
	if err != nil {
		w.logger.Error("state-changed event with bad alarm id", "alarm_id", p.AlarmID)
		return nil
	}

	event := map[string]any{
		"event":      "alarm.state_changed",
		"alarm_id":   p.AlarmID,
		"old_status": p.OldStatus,
		"new_status": p.NewStatus,
		"actor":      p.Actor,
		"at":         w.now().Format(time.RFC3339),
	}
	err = w.webhook.Deliver(ctx, event, func(attempt int, result, errMsg string) {
		var errPtr *string
		if errMsg != "" {
			errPtr = &errMsg
		}
		row := alarm.Notification{
			ID:        uuid.New(),
			AlarmID:   alarmID,
			CreatedAt: w.now(),
			Channel:   connector.ChannelWebhook,
			Payload: map[string]any{
				"event":      "alarm.state_changed",
				"old_status": p.OldStatus,
				"new_status": p.NewStatus,
				"attempt":    attempt,
			},
			Result: result,
			Error:  errPtr,
		}
		if err := w.audit.CreateNotification(ctx, row); err != nil {
			w.logger.Error("recording webhook audit row", "alarm_id", alarmID, "error", err)
		}
		telemetry.NotificationsTotal.WithLabelValues(connector.ChannelWebhook, result).Inc()
	})
	if err != nil {
		w.logger.Error("state-changed callback failed", "alarm_id", alarmID, "error", err)
	}
	return nil
}

// loadAlarm resolves the payload id. Unparseable ids and vanished rows
// are dropped; a store failure propagates so the queue retries the job.
func (w *Worker) loadAlarm(ctx context.Context, rawID string) (alarm.Alarm, bool, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		w.logger.Error("event with bad alarm id", "alarm_id", rawID)
		return alarm.Alarm{}, false, nil
	}
	a, err := w.alarms.Get(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		w.logger.Error("event for unknown alarm", "alarm_id", id)
		return alarm.Alarm{}, false, nil
	}
	if err != nil {
		return alarm.Alarm{}, false, fmt.Errorf("loading alarm %s: %w", id, err)
	}
	return a, true, nil
}

func (w *Worker) buildPayload(ctx context.Context, a alarm.Alarm, stepNo int) (notify.Payload, error) {
	dctx, err := w.directory.Enrich(ctx, a.PersonID, a.RoomID, a.SiteID)
	if err != nil {
		return notify.Payload{}, fmt.Errorf("enriching alarm %s: %w", a.ID, err)
	}
	return notify.BuildPayload(a, dctx, stepNo, w.ackURL(a.AckToken)), nil
}

func (w *Worker) dispatchStep(ctx context.Context, a alarm.Alarm, policy Policy, payload notify.Payload, stepNo int) error {
	targets, err := w.steps.StepTargets(ctx, policy.ID, stepNo)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		w.logger.Info("no enabled targets at step", "alarm_id", a.ID, "step_no", stepNo)
		return nil
	}

	notifyTargets := make([]notify.Target, 0, len(targets))
	for _, t := range targets {
		notifyTargets = append(notifyTargets, notify.Target{
			ID:      t.ID,
			Label:   t.Label,
			Channel: t.Channel,
			Address: t.Address,
		})
	}
	sent := w.orch.Dispatch(ctx, a.ID, payload, notifyTargets)
	telemetry.EscalationsTotal.WithLabelValues("dispatched").Inc()
	w.logger.Info("escalation step dispatched",
		"alarm_id", a.ID, "step_no", stepNo, "targets", len(targets), "sent", sent)
	return nil
}

// stepDelay prefers the step's own delay and falls back to the
// configured defaults when the step carries none.
func (w *Worker) stepDelay(step DeferredStep) time.Duration {
	if step.AfterSeconds > 0 {
		return time.Duration(step.AfterSeconds) * time.Second
	}
	if idx := step.StepNo - 1; idx >= 0 && idx < len(w.fallback) {
		return w.fallback[idx]
	}
	return time.Minute
}

func messageFrom(p notify.Payload) connector.Message {
	return connector.Message{
		AlarmID:  p.AlarmID,
		Title:    p.Title,
		Body:     p.Body,
		Tags:     p.Tags,
		Priority: p.Priority,
		StepNo:   p.StepNo,
		AckURL:   p.AckURL,
	}
}
