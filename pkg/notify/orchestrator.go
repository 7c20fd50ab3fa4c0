package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/redbutton/internal/telemetry"
	"github.com/wisbric/redbutton/pkg/alarm"
	"github.com/wisbric/redbutton/pkg/connector"
)

// Target is one notification recipient of an escalation step.
type Target struct {
	ID      string
	Label   string
	Channel string
	Address string
}

// AuditStore persists one row per outbound dispatch attempt.
type AuditStore interface {
	CreateNotification(ctx context.Context, n alarm.Notification) error
}

// Orchestrator dispatches a payload to the targets of a step. A failing
// target never blocks the remaining ones; every dispatch leaves an
// audit row regardless of outcome.
type Orchestrator struct {
	registry *connector.Registry
	audit    AuditStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator creates the dispatcher.
func NewOrchestrator(registry *connector.Registry, audit AuditStore, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		audit:    audit,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch sends the payload to every target and returns the number of
// successful deliveries.
func (o *Orchestrator) Dispatch(ctx context.Context, alarmID uuid.UUID, payload Payload, targets []Target) int {
	sent := 0
	for _, target := range targets {
		if o.dispatchOne(ctx, alarmID, payload, target) {
			sent++
		}
	}
	return sent
}

func (o *Orchestrator) dispatchOne(ctx context.Context, alarmID uuid.UUID, payload Payload, target Target) bool {
	msg := connector.Message{
		AlarmID:  payload.AlarmID,
		Title:    payload.Title,
		Body:     payload.Body,
		Tags:     payload.Tags,
		Priority: payload.Priority,
		StepNo:   payload.StepNo,
		AckURL:   payload.AckURL,
		Address:  target.Address,
	}

	result := alarm.ResultOK
	var errMsg *string

	sender := o.registry.Get(target.Channel)
	if sender == nil {
		result = alarm.ResultError
		m := "no sender registered for channel " + target.Channel
		errMsg = &m
		o.logger.Error("notification channel unavailable",
			"alarm_id", alarmID, "target_id", target.ID, "channel", target.Channel)
	} else if err := sender.Send(ctx, msg); err != nil {
		result = alarm.ResultError
		if connector.IsTimeout(err) {
			result = alarm.ResultTimeout
		}
		m := err.Error()
		errMsg = &m
		o.logger.Error("notification dispatch failed",
			"alarm_id", alarmID, "target_id", target.ID, "channel", target.Channel,
			"step_no", payload.StepNo, "error", err)
	} else {
		o.logger.Info("notification dispatched",
			"alarm_id", alarmID, "target_id", target.ID, "channel", target.Channel,
			"step_no", payload.StepNo)
	}

	telemetry.NotificationsTotal.WithLabelValues(target.Channel, result).Inc()

	targetID := target.ID
	row := alarm.Notification{
		ID:        uuid.New(),
		AlarmID:   alarmID,
		CreatedAt: o.now(),
		Channel:   target.Channel,
		TargetID:  &targetID,
		Payload: map[string]any{
			"title":    payload.Title,
			"body":     payload.Body,
			"tags":     payload.Tags,
			"priority": payload.Priority,
			"step_no":  payload.StepNo,
		},
		Result: result,
		Error:  errMsg,
	}
	if err := o.audit.CreateNotification(ctx, row); err != nil {
		o.logger.Error("recording notification audit row",
			"alarm_id", alarmID, "target_id", target.ID, "error", err)
	}
	return result == alarm.ResultOK
}
