package escalation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/redbutton/internal/apperr"
	"github.com/wisbric/redbutton/pkg/connector"
)

// Service owns policy mutations. Reads go through the Store directly.
type Service struct {
	pool   *pgxpool.Pool
	store  *Store
	logger *slog.Logger
}

// NewService creates the policy service.
func NewService(pool *pgxpool.Pool, store *Store, logger *slog.Logger) *Service {
	return &Service{pool: pool, store: store, logger: logger}
}

// PolicyInput is a full policy replacement: the policy row plus its
// complete step set.
type PolicyInput struct {
	ID    string
	Name  string
	Steps []Step
}

// ApplyPolicy validates and applies a policy upsert atomically. The
// step set replaces whatever the policy had before.
func (s *Service) ApplyPolicy(ctx context.Context, in PolicyInput) error {
	seen := make(map[[2]string]bool, len(in.Steps))
	targetIDs := make([]string, 0, len(in.Steps))
	for _, step := range in.Steps {
		if step.StepNo < 0 {
			return apperr.Invalid("step_no must not be negative")
		}
		if step.AfterSeconds < 0 {
			return apperr.Invalid("after_seconds must not be negative")
		}
		key := [2]string{fmt.Sprint(step.StepNo), step.TargetID}
		if seen[key] {
			return apperr.Conflict(fmt.Sprintf("duplicate step (%d, %s)", step.StepNo, step.TargetID))
		}
		seen[key] = true
		targetIDs = append(targetIDs, step.TargetID)
	}

	missing, err := s.store.MissingTargets(ctx, targetIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return apperr.Invalid(fmt.Sprintf("unknown escalation targets: %v", missing))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning policy upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txStore := s.store.WithTx(tx)
	if err := txStore.UpsertPolicy(ctx, Policy{ID: in.ID, Name: in.Name}); err != nil {
		return err
	}
	if err := txStore.ReplaceSteps(ctx, in.ID, in.Steps); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing policy upsert: %w", err)
	}

	s.logger.Info("escalation policy applied", "policy_id", in.ID, "steps", len(in.Steps))
	return nil
}

// SaveTarget validates and upserts one target.
func (s *Service) SaveTarget(ctx context.Context, t Target) error {
	if t.ID == "" {
		return apperr.Invalid("target id is required")
	}
	if !connector.ValidChannel(t.Channel) {
		return apperr.Invalid("unknown channel tag " + t.Channel)
	}
	return s.store.UpsertTarget(ctx, t)
}
