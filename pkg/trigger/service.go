package trigger

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/redbutton/internal/apperr"
	"github.com/wisbric/redbutton/internal/httpserver"
	"github.com/wisbric/redbutton/internal/telemetry"
	"github.com/wisbric/redbutton/pkg/alarm"
	"github.com/wisbric/redbutton/pkg/directory"
)

// CreatedSink receives the created event once the alarm row committed.
type CreatedSink interface {
	AlarmCreated(ctx context.Context, alarmID uuid.UUID) error
}

// Options carries the ingress policy knobs.
type Options struct {
	RateLimitPerMinute int
	IPAllowlist        []netip.Prefix
	Simulation         bool
}

// Service runs the trigger pipeline.
type Service struct {
	pool      *pgxpool.Pool
	kv        *KV
	alarms    *alarm.Store
	devices   *directory.Store
	events    CreatedSink
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
	newUUID   func() uuid.UUID
	newSecret func() (string, error)
	readAlarm func(ctx context.Context, id uuid.UUID) (alarm.Alarm, error)
}

// NewService creates the pipeline service.
func NewService(pool *pgxpool.Pool, kv *KV, alarms *alarm.Store, devices *directory.Store, events CreatedSink, opts Options, logger *slog.Logger) *Service {
	return &Service{
		pool:      pool,
		kv:        kv,
		alarms:    alarms,
		devices:   devices,
		events:    events,
		opts:      opts,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newUUID:   uuid.New,
		newSecret: newAckToken,
		readAlarm: alarms.Get,
	}
}

// newAckToken returns 32 bytes of entropy as a URL-safe string.
func newAckToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating ack token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Input is one device trigger request.
type Input struct {
	Token     string
	ClientIP  string
	UserAgent string
	Event     string
	Severity  string
}

// Result is the trigger contract: the alarm that now exists for this
// (token, bucket) pair and whether this request created it.
type Result struct {
	AlarmID   uuid.UUID `json:"alarm_id"`
	Status    string    `json:"status"`
	Duplicate bool      `json:"duplicate"`
}

// Trigger runs the full ingress pipeline. Every failure after the
// reservation releases it so the device can retry inside the bucket.
func (s *Service) Trigger(ctx context.Context, in Input) (Result, error) {
	res, err := s.trigger(ctx, in)
	telemetry.TriggersTotal.WithLabelValues(triggerMetricResult(res, err)).Inc()
	return res, err
}

func (s *Service) trigger(ctx context.Context, in Input) (Result, error) {
	// Shape validation touches neither the KV nor the DB.
	if in.Token == "" {
		return Result{}, apperr.Invalid("missing device token")
	}
	if in.Severity != "" && !alarm.ValidSeverity(in.Severity) {
		return Result{}, apperr.Invalid(fmt.Sprintf("invalid severity %q", in.Severity))
	}

	now := s.now()
	bucket := IdempotencyBucket(now)
	key := IdempotencyKey(in.Token, bucket)

	// A prior request in this bucket wins outright.
	if existing, err := s.kv.Lookup(ctx, key); err != nil {
		return Result{}, apperr.Wrap(apperr.KindTransient, "idempotency lookup failed", err)
	} else if existing != "" {
		res, ok, err := s.resolveExisting(ctx, existing)
		if err != nil {
			// The winner may be valid; fail this request instead of
			// clearing its reservation.
			return Result{}, err
		}
		if ok {
			return res, nil
		}
		// Stale reservation; clear and continue.
		if err := s.kv.Release(ctx, key); err != nil {
			return Result{}, apperr.Wrap(apperr.KindTransient, "clearing stale reservation", err)
		}
	}

	alarmID, err := s.reserve(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if alarmID == uuid.Nil {
		// Lost the race; report the winner.
		winner, err := s.kv.Lookup(ctx, key)
		if err != nil {
			return Result{}, apperr.Wrap(apperr.KindTransient, "reading race winner", err)
		}
		res, ok, err := s.resolveExisting(ctx, winner)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return res, nil
		}
		return Result{}, apperr.New(apperr.KindTransient, "idempotency slot contended")
	}

	// Everything past this point must release the reservation on failure.
	fail := func(cause error) (Result, error) {
		if err := s.kv.Release(ctx, key); err != nil {
			s.logger.Error("releasing reservation after failure", "error", err)
		}
		return Result{}, cause
	}

	// IP policy runs before the rate limit so a blocked caller cannot
	// spend a victim token's quota.
	if len(s.opts.IPAllowlist) > 0 && !s.opts.Simulation {
		if !httpserver.PrefixesContain(s.opts.IPAllowlist, in.ClientIP) {
			return fail(apperr.New(apperr.KindForbidden, "client address not allowed"))
		}
	}

	if !s.opts.Simulation {
		count, err := s.kv.IncrRate(ctx, RateKey(in.Token, MinuteBucket(now)))
		if err != nil {
			return fail(apperr.Wrap(apperr.KindTransient, "rate limit check failed", err))
		}
		if count > int64(s.opts.RateLimitPerMinute) {
			return fail(apperr.New(apperr.KindRateLimited, "rate limit exceeded"))
		}
	}

	device, err := s.devices.GetDeviceByToken(ctx, in.Token)
	if errors.Is(err, pgx.ErrNoRows) {
		return fail(apperr.NotFound("Unknown token"))
	}
	if err != nil {
		return fail(apperr.Wrap(apperr.KindTransient, "device lookup failed", err))
	}
	if !device.Bound() {
		return fail(apperr.Conflict("Device mapping incomplete"))
	}

	a, err := s.buildAlarm(ctx, alarmID, device, in, now, bucket, key)
	if err != nil {
		return fail(err)
	}

	if err := s.persist(ctx, a, device.ID, now); err != nil {
		return fail(apperr.Wrap(apperr.KindTransient, "persisting alarm", err))
	}

	if err := s.events.AlarmCreated(ctx, a.ID); err != nil {
		// The alarm row is durable; losing the event is logged, not fatal.
		s.logger.Error("enqueueing created event", "alarm_id", a.ID, "error", err)
	}

	return Result{AlarmID: a.ID, Status: string(a.Status), Duplicate: false}, nil
}

// reserve claims the idempotency key for a fresh alarm id. It retries
// so a transient KV hiccup does not drop the request; a persistent
// loser observes the winner instead (uuid.Nil return).
func (s *Service) reserve(ctx context.Context, key string) (uuid.UUID, error) {
	id := s.newUUID()
	var lastErr error
	for attempt := 0; attempt < reserveRetries; attempt++ {
		ok, winner, err := s.kv.Reserve(ctx, key, id.String())
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return id, nil
		}
		if winner != "" {
			return uuid.Nil, nil
		}
		// The winner's key expired between SetNX and Get; try again.
	}
	if lastErr != nil {
		return uuid.Nil, apperr.Wrap(apperr.KindTransient, "reserving idempotency slot", lastErr)
	}
	return uuid.Nil, nil
}

// resolveExisting turns a reserved value into a duplicate result. The
// alarm row may not be committed yet when we race the winner; report
// TRIGGERED in that case. Only an unparseable value is stale (ok=false);
// a store failure comes back as an error so the caller does not clear a
// reservation it cannot judge.
func (s *Service) resolveExisting(ctx context.Context, value string) (Result, bool, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return Result{}, false, nil
	}
	status := string(alarm.StatusTriggered)
	a, err := s.readAlarm(ctx, id)
	switch {
	case err == nil:
		status = string(a.Status)
	case errors.Is(err, pgx.ErrNoRows):
		// In-flight winner; the row lands when it commits.
	default:
		return Result{}, false, apperr.Wrap(apperr.KindTransient, "resolving duplicate alarm", err)
	}
	return Result{AlarmID: id, Status: status, Duplicate: true}, true, nil
}

func (s *Service) buildAlarm(ctx context.Context, id uuid.UUID, device directory.Device, in Input, now time.Time, bucket int64, key string) (alarm.Alarm, error) {
	ackToken, err := s.newSecret()
	if err != nil {
		return alarm.Alarm{}, apperr.Wrap(apperr.KindTransient, "allocating ack token", err)
	}

	severity := in.Severity
	if severity == "" {
		severity = alarm.SeverityP0
	}
	event := in.Event
	if event == "" {
		event = "alarm.trigger"
	}

	var siteID *string
	if device.RoomID != nil {
		site, err := s.devices.RoomSite(ctx, *device.RoomID)
		if err != nil {
			s.logger.Error("resolving room site", "error", err)
		} else if site != "" {
			siteID = &site
		}
	}

	deviceID := device.ID
	return alarm.Alarm{
		ID:        id,
		Status:    alarm.StatusTriggered,
		Source:    "yealink",
		Event:     event,
		CreatedAt: now,
		PersonID:  device.PersonID,
		RoomID:    device.RoomID,
		SiteID:    siteID,
		DeviceID:  &deviceID,
		Severity:  severity,
		Silent:    severity == alarm.SeverityP0,
		AckToken:  ackToken,
		Meta: map[string]any{
			"received_at": now.Format(time.RFC3339),
			"client_ip":   in.ClientIP,
			"user_agent":  in.UserAgent,
			"idempotency": map[string]any{
				"bucket": bucket,
				"key":    key,
			},
		},
	}, nil
}

// persist writes the alarm and the device last-seen stamp in one
// transaction.
func (s *Service) persist(ctx context.Context, a alarm.Alarm, deviceID string, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting trigger transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.alarms.WithTx(tx).Create(ctx, a); err != nil {
		return err
	}
	if err := s.devices.WithTx(tx).TouchDevice(ctx, deviceID, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func triggerMetricResult(res Result, err error) string {
	switch {
	case err == nil && res.Duplicate:
		return "duplicate"
	case err == nil:
		return "created"
	case apperr.KindOf(err) == apperr.KindTransient, apperr.KindOf(err) == apperr.KindUnknown:
		return "error"
	default:
		return "rejected"
	}
}
