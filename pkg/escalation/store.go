package escalation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/redbutton/internal/platform"
)

// Store provides database operations for targets, policies and steps.
type Store struct {
	db platform.DBTX
}

// NewStore creates a Store over a pool or transaction.
func NewStore(db platform.DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to the given transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

// UpsertTarget inserts or updates a target keyed by id.
func (s *Store) UpsertTarget(ctx context.Context, t Target) error {
	_, err := s.db.Exec(ctx, `INSERT INTO escalation_targets (id, label, channel, address, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET label = $2, channel = $3, address = $4, enabled = $5`,
		t.ID, t.Label, t.Channel, t.Address, t.Enabled)
	if err != nil {
		return fmt.Errorf("upserting escalation target: %w", err)
	}
	return nil
}

// ListTargets returns all targets ordered by id.
func (s *Store) ListTargets(ctx context.Context) ([]Target, error) {
	rows, err := s.db.Query(ctx, `SELECT id, label, channel, address, enabled
		FROM escalation_targets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing escalation targets: %w", err)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		var t Target
		if err := rows.Scan(&t.ID, &t.Label, &t.Channel, &t.Address, &t.Enabled); err != nil {
			return nil, fmt.Errorf("scanning target row: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating target rows: %w", err)
	}
	return targets, nil
}

// MissingTargets returns the subset of ids with no target row.
func (s *Store) MissingTargets(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `SELECT id FROM escalation_targets WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("checking target ids: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning target id: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating target ids: %w", err)
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// ActivePolicy returns the single active policy. The second return is
// false when no policy exists yet.
func (s *Store) ActivePolicy(ctx context.Context) (Policy, bool, error) {
	var p Policy
	err := s.db.QueryRow(ctx, `SELECT id, name FROM escalation_policies ORDER BY id LIMIT 1`).
		Scan(&p.ID, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, false, nil
	}
	if err != nil {
		return Policy{}, false, fmt.Errorf("loading active policy: %w", err)
	}
	return p, true, nil
}

// UpsertPolicy inserts or updates the policy row keyed by id.
func (s *Store) UpsertPolicy(ctx context.Context, p Policy) error {
	_, err := s.db.Exec(ctx, `INSERT INTO escalation_policies (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = $2`, p.ID, p.Name)
	if err != nil {
		return fmt.Errorf("upserting escalation policy: %w", err)
	}
	return nil
}

// ReplaceSteps swaps the full step set of a policy. Callers run this
// inside a transaction together with UpsertPolicy.
func (s *Store) ReplaceSteps(ctx context.Context, policyID string, steps []Step) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM escalation_steps WHERE policy_id = $1`, policyID); err != nil {
		return fmt.Errorf("clearing policy steps: %w", err)
	}
	for _, step := range steps {
		_, err := s.db.Exec(ctx, `INSERT INTO escalation_steps (policy_id, step_no, target_id, after_seconds)
			VALUES ($1, $2, $3, $4)`,
			policyID, step.StepNo, step.TargetID, step.AfterSeconds)
		if err != nil {
			return fmt.Errorf("inserting policy step %d: %w", step.StepNo, err)
		}
	}
	return nil
}

// ListSteps returns the step set of a policy ordered by ordinal.
func (s *Store) ListSteps(ctx context.Context, policyID string) ([]Step, error) {
	rows, err := s.db.Query(ctx, `SELECT policy_id, step_no, target_id, after_seconds
		FROM escalation_steps WHERE policy_id = $1 ORDER BY step_no, target_id`, policyID)
	if err != nil {
		return nil, fmt.Errorf("listing policy steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.PolicyID, &st.StepNo, &st.TargetID, &st.AfterSeconds); err != nil {
			return nil, fmt.Errorf("scanning step row: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating step rows: %w", err)
	}
	return steps, nil
}

// StepTargets returns the enabled targets bound to one step ordinal.
func (s *Store) StepTargets(ctx context.Context, policyID string, stepNo int) ([]Target, error) {
	rows, err := s.db.Query(ctx, `SELECT t.id, t.label, t.channel, t.address, t.enabled
		FROM escalation_steps st
		JOIN escalation_targets t ON t.id = st.target_id
		WHERE st.policy_id = $1 AND st.step_no = $2 AND t.enabled
		ORDER BY t.id`, policyID, stepNo)
	if err != nil {
		return nil, fmt.Errorf("loading step %d targets: %w", stepNo, err)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		var t Target
		if err := rows.Scan(&t.ID, &t.Label, &t.Channel, &t.Address, &t.Enabled); err != nil {
			return nil, fmt.Errorf("scanning step target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating step targets: %w", err)
	}
	return targets, nil
}

// DeferredSteps returns the step ordinals above zero with their delay,
// one row per ordinal.
func (s *Store) DeferredSteps(ctx context.Context, policyID string) ([]DeferredStep, error) {
	rows, err := s.db.Query(ctx, `SELECT step_no, MIN(after_seconds)
		FROM escalation_steps WHERE policy_id = $1 AND step_no > 0
		GROUP BY step_no ORDER BY step_no`, policyID)
	if err != nil {
		return nil, fmt.Errorf("loading deferred steps: %w", err)
	}
	defer rows.Close()

	var steps []DeferredStep
	for rows.Next() {
		var st DeferredStep
		if err := rows.Scan(&st.StepNo, &st.AfterSeconds); err != nil {
			return nil, fmt.Errorf("scanning deferred step: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deferred steps: %w", err)
	}
	return steps, nil
}
