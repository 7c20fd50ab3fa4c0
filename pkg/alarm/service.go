package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/redbutton/internal/apperr"
)

// EventSink receives lifecycle events after a transition committed.
// The worker turns them into follow-up notifications and callbacks.
type EventSink interface {
	AlarmAcked(ctx context.Context, alarmID uuid.UUID) error
	AlarmStateChanged(ctx context.Context, alarmID uuid.UUID, oldStatus, newStatus Status, actor string) error
}

// Service is the alarm state machine. All transitions run inside one
// transaction holding the row lock, so concurrent operators serialize
// on the database.
type Service struct {
	pool   *pgxpool.Pool
	store  *Store
	events EventSink
	logger *slog.Logger
	now    func() time.Time
	apply  func(ctx context.Context, id uuid.UUID, target Status, actor, note string, lenient bool) (changed bool, old Status, err error)
}

// NewService creates the state machine service.
func NewService(pool *pgxpool.Pool, store *Store, events EventSink, logger *slog.Logger) *Service {
	s := &Service{
		pool:   pool,
		store:  store,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.apply = s.applyTx
	return s
}

// Get returns an alarm by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Alarm, error) {
	a, err := s.store.Get(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Alarm{}, apperr.NotFound("alarm not found")
	}
	if err != nil {
		return Alarm{}, err
	}
	return a, nil
}

// Acknowledge moves an alarm from TRIGGERED to ACKNOWLEDGED. Any other
// starting state is a silent no-op with changed=false, which makes the
// single-use ack link safe to submit twice.
func (s *Service) Acknowledge(ctx context.Context, id uuid.UUID, ackedBy, note string) (bool, error) {
	changed, old, err := s.apply(ctx, id, StatusAcknowledged, ackedBy, note, true)
	if err != nil {
		return false, err
	}
	if changed {
		s.emitAcked(ctx, id)
		s.emitStateChanged(ctx, id, old, StatusAcknowledged, ackedBy)
	}
	return changed, nil
}

// Transition moves an alarm to targetStatus per the transition table.
// Same-status is a silent no-op; a forbidden transition is a conflict.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status, actor, note string) (bool, error) {
	if !ValidStatus(target) || target == StatusTriggered {
		return false, apperr.Invalid(fmt.Sprintf("invalid target status %q", target))
	}

	changed, old, err := s.apply(ctx, id, target, actor, note, false)
	if err != nil {
		return false, err
	}
	if changed {
		if target == StatusAcknowledged {
			s.emitAcked(ctx, id)
		}
		s.emitStateChanged(ctx, id, old, target, actor)
	}
	return changed, nil
}

// applyTx runs one guarded transition inside a transaction. When
// lenient is set, a forbidden transition degrades to a no-op instead
// of a conflict (the acknowledge semantics).
func (s *Service) applyTx(ctx context.Context, id uuid.UUID, target Status, actor, note string, lenient bool) (changed bool, old Status, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, "", apperr.Wrap(apperr.KindTransient, "starting transaction", err)
	}
	defer tx.Rollback(ctx)

	txStore := s.store.WithTx(tx)
	a, err := txStore.GetForUpdate(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", apperr.NotFound("alarm not found")
	}
	if err != nil {
		return false, "", fmt.Errorf("loading alarm %s: %w", id, err)
	}

	old = a.Status
	if a.Status == target {
		return false, old, nil
	}
	if !CanTransition(a.Status, target) {
		if lenient {
			return false, old, nil
		}
		return false, old, apperr.Conflict(fmt.Sprintf("transition %s -> %s not allowed", a.Status, target))
	}

	if err := txStore.ApplyTransition(ctx, id, target, actor, s.now(), note); err != nil {
		return false, old, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, old, apperr.Wrap(apperr.KindTransient, "committing transition", err)
	}
	return true, old, nil
}

// SoftDelete stamps deleted_at/by. A second delete is a conflict.
func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID, deletedBy string) error {
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.DeletedAt != nil {
		return apperr.Conflict("alarm already deleted")
	}
	if err := s.store.SoftDelete(ctx, id, deletedBy, s.now()); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Conflict("alarm already deleted")
		}
		return err
	}
	return nil
}

// BulkResult is the accounting for a bulk transition request.
type BulkResult struct {
	Requested int         `json:"requested"`
	Changed   int         `json:"changed"`
	Unchanged int         `json:"unchanged"`
	Missing   []uuid.UUID `json:"missing"`
}

// BulkTransition applies one transition to many alarms. Forbidden
// transitions count as unchanged rather than failing the batch, and
// missing ids are reported rather than erroring.
func (s *Service) BulkTransition(ctx context.Context, ids []uuid.UUID, target Status, actor, note string) (BulkResult, error) {
	res := BulkResult{Requested: len(ids), Missing: []uuid.UUID{}}

	for _, id := range ids {
		var changed bool
		var err error
		if target == StatusAcknowledged {
			changed, err = s.Acknowledge(ctx, id, actor, note)
		} else {
			changed, err = s.Transition(ctx, id, target, actor, note)
		}
		switch {
		case err == nil && changed:
			res.Changed++
		case err == nil:
			res.Unchanged++
		case apperr.KindOf(err) == apperr.KindNotFound:
			res.Missing = append(res.Missing, id)
		case apperr.KindOf(err) == apperr.KindConflict:
			res.Unchanged++
		default:
			return res, fmt.Errorf("bulk transition on %s: %w", id, err)
		}
	}
	return res, nil
}

// AddNote stores a manual annotation.
func (s *Service) AddNote(ctx context.Context, alarmID uuid.UUID, createdBy, text, noteType string) (Note, error) {
	if _, err := s.Get(ctx, alarmID); err != nil {
		return Note{}, err
	}
	n := Note{
		ID:        uuid.New(),
		AlarmID:   alarmID,
		CreatedAt: s.now(),
		CreatedBy: createdBy,
		Text:      text,
		NoteType:  noteType,
	}
	if err := s.store.CreateNote(ctx, n); err != nil {
		return Note{}, err
	}
	return n, nil
}

// Update applies a partial operator edit.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p UpdateParams) (Alarm, error) {
	if p.Severity != nil && !ValidSeverity(*p.Severity) {
		return Alarm{}, apperr.Invalid(fmt.Sprintf("invalid severity %q", *p.Severity))
	}
	a, err := s.store.Update(ctx, id, p)
	if errors.Is(err, pgx.ErrNoRows) {
		return Alarm{}, apperr.NotFound("alarm not found")
	}
	if err != nil {
		return Alarm{}, err
	}
	return a, nil
}

func (s *Service) emitAcked(ctx context.Context, id uuid.UUID) {
	if err := s.events.AlarmAcked(ctx, id); err != nil {
		s.logger.Error("enqueueing acked event", "alarm_id", id, "error", err)
	}
}

func (s *Service) emitStateChanged(ctx context.Context, id uuid.UUID, oldStatus, newStatus Status, actor string) {
	if err := s.events.AlarmStateChanged(ctx, id, oldStatus, newStatus, actor); err != nil {
		s.logger.Error("enqueueing state-changed event", "alarm_id", id, "error", err)
	}
}
