package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/redbutton/internal/platform"
)

// Store provides database operations for alarms, notes and the
// notification audit trail.
type Store struct {
	db platform.DBTX
}

// NewStore creates an alarm Store over the given connection or transaction.
func NewStore(db platform.DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to the given transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

// alarmColumns is the shared column list for alarm queries.
const alarmColumns = `id, status, source, event, created_at, person_id, room_id, site_id,
	device_id, severity, silent, external_ticket_id, ack_token,
	acked_at, acked_by, resolved_at, resolved_by, cancelled_at, cancelled_by,
	deleted_at, deleted_by, meta`

func scanAlarm(row pgx.Row) (Alarm, error) {
	var a Alarm
	var meta []byte
	err := row.Scan(
		&a.ID, &a.Status, &a.Source, &a.Event, &a.CreatedAt,
		&a.PersonID, &a.RoomID, &a.SiteID, &a.DeviceID,
		&a.Severity, &a.Silent, &a.ExternalTicketID, &a.AckToken,
		&a.AckedAt, &a.AckedBy, &a.ResolvedAt, &a.ResolvedBy,
		&a.CancelledAt, &a.CancelledBy, &a.DeletedAt, &a.DeletedBy,
		&meta,
	)
	if err != nil {
		return Alarm{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Meta); err != nil {
			return Alarm{}, fmt.Errorf("decoding alarm meta: %w", err)
		}
	}
	if a.Meta == nil {
		a.Meta = map[string]any{}
	}
	return a, nil
}

// Create inserts a new alarm row.
func (s *Store) Create(ctx context.Context, a Alarm) error {
	meta, err := json.Marshal(a.Meta)
	if err != nil {
		return fmt.Errorf("encoding alarm meta: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO alarms (
		id, status, source, event, created_at, person_id, room_id, site_id,
		device_id, severity, silent, ack_token, meta
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.Status, a.Source, a.Event, a.CreatedAt,
		a.PersonID, a.RoomID, a.SiteID, a.DeviceID,
		a.Severity, a.Silent, a.AckToken, meta,
	)
	if err != nil {
		return fmt.Errorf("inserting alarm: %w", err)
	}
	return nil
}

// Get returns a single alarm by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Alarm, error) {
	row := s.db.QueryRow(ctx, `SELECT `+alarmColumns+` FROM alarms WHERE id = $1`, id)
	return scanAlarm(row)
}

// GetForUpdate locks the alarm row for the duration of the transaction.
func (s *Store) GetForUpdate(ctx context.Context, id uuid.UUID) (Alarm, error) {
	row := s.db.QueryRow(ctx, `SELECT `+alarmColumns+` FROM alarms WHERE id = $1 FOR UPDATE`, id)
	return scanAlarm(row)
}

// GetByAckToken resolves an alarm by its opaque acknowledgment token.
func (s *Store) GetByAckToken(ctx context.Context, token string) (Alarm, error) {
	row := s.db.QueryRow(ctx, `SELECT `+alarmColumns+` FROM alarms WHERE ack_token = $1`, token)
	return scanAlarm(row)
}

// ApplyTransition writes the new status plus its timestamp/actor pair
// and merges noteField into meta when a note is present. Callers hold
// the row lock and have already validated the transition.
func (s *Store) ApplyTransition(ctx context.Context, id uuid.UUID, to Status, actor string, at time.Time, note string) error {
	var tsCol, actorCol, noteField string
	switch to {
	case StatusAcknowledged:
		tsCol, actorCol, noteField = "acked_at", "acked_by", "ack_note"
	case StatusResolved:
		tsCol, actorCol, noteField = "resolved_at", "resolved_by", "resolve_note"
	case StatusCancelled:
		tsCol, actorCol, noteField = "cancelled_at", "cancelled_by", "cancel_note"
	default:
		return fmt.Errorf("no transition columns for status %s", to)
	}

	query := fmt.Sprintf(`UPDATE alarms
		SET status = $2, %s = $3, %s = $4, meta = meta || $5
		WHERE id = $1`, tsCol, actorCol)

	merge := map[string]string{}
	if note != "" {
		merge[noteField] = note
	}
	mergeJSON, err := json.Marshal(merge)
	if err != nil {
		return fmt.Errorf("encoding transition note: %w", err)
	}

	if _, err := s.db.Exec(ctx, query, id, to, at, actor, mergeJSON); err != nil {
		return fmt.Errorf("applying transition to %s: %w", to, err)
	}
	return nil
}

// SoftDelete stamps deleted_at/deleted_by. Returns pgx.ErrNoRows when
// the alarm is missing or already deleted.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID, deletedBy string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE alarms SET deleted_at = $2, deleted_by = $3
		WHERE id = $1 AND deleted_at IS NULL`, id, at, deletedBy)
	if err != nil {
		return fmt.Errorf("soft deleting alarm: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SetExternalTicket stamps the external ticket id in a separate write
// after ticket creation succeeds.
func (s *Store) SetExternalTicket(ctx context.Context, id uuid.UUID, ticketID string) error {
	if _, err := s.db.Exec(ctx, `UPDATE alarms SET external_ticket_id = $2 WHERE id = $1`, id, ticketID); err != nil {
		return fmt.Errorf("setting external ticket id: %w", err)
	}
	return nil
}

// UpdateParams carries the PATCH surface: severity as a column, the
// rest merged into meta. Nil fields are left untouched.
type UpdateParams struct {
	Severity    *string
	Title       *string
	Description *string
	Tags        []string
}

// Update applies a partial update and returns the fresh row.
func (s *Store) Update(ctx context.Context, id uuid.UUID, p UpdateParams) (Alarm, error) {
	merge := map[string]any{}
	if p.Title != nil {
		merge["title"] = *p.Title
	}
	if p.Description != nil {
		merge["description"] = *p.Description
	}
	if p.Tags != nil {
		merge["tags"] = p.Tags
	}
	mergeJSON, err := json.Marshal(merge)
	if err != nil {
		return Alarm{}, fmt.Errorf("encoding meta patch: %w", err)
	}

	row := s.db.QueryRow(ctx, `UPDATE alarms
		SET severity = COALESCE($2, severity), meta = meta || $3
		WHERE id = $1
		RETURNING `+alarmColumns, id, p.Severity, mergeJSON)
	return scanAlarm(row)
}

// Filters is the shared filter surface for list, export and bulk reads.
type Filters struct {
	Status        string
	Severity      string
	PersonID      string
	RoomID        string
	SiteID        string
	DeviceID      string
	Source        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Sort fields accepted by List.
const (
	SortCreatedAt = "created_at"
	SortStatus    = "status"
	SortSeverity  = "severity"
)

// ListParams combines filters, ordering and cursor pagination. Cursor is
// the id of the last row of the previous page.
type ListParams struct {
	Filters Filters
	SortBy  string
	Desc    bool
	Cursor  *uuid.UUID
	Limit   int
}

var sortColumns = map[string]bool{
	SortCreatedAt: true,
	SortStatus:    true,
	SortSeverity:  true,
}

// List returns up to Limit alarms in a stable (sort_col, id) order,
// continuing strictly after the cursor row when one is given. Callers
// fetch Limit+1 rows to detect a further page.
func (s *Store) List(ctx context.Context, p ListParams) ([]Alarm, error) {
	sortBy := p.SortBy
	if !sortColumns[sortBy] {
		sortBy = SortCreatedAt
	}
	dir, cmp := "ASC", ">"
	if p.Desc {
		dir, cmp = "DESC", "<"
	}

	where, args := buildFilterClauses(p.Filters)
	if p.Cursor != nil {
		args = append(args, *p.Cursor)
		where = append(where, fmt.Sprintf(
			`(%s, id) %s (SELECT %s, id FROM alarms WHERE id = $%d)`,
			sortBy, cmp, sortBy, len(args)))
	}

	args = append(args, p.Limit)
	query := fmt.Sprintf(
		`SELECT %s FROM alarms WHERE %s ORDER BY %s %s, id %s LIMIT $%d`,
		alarmColumns, strings.Join(where, " AND "), sortBy, dir, dir, len(args),
	)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing alarms: %w", err)
	}
	defer rows.Close()

	var items []Alarm
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alarm row: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alarm rows: %w", err)
	}
	return items, nil
}

// buildFilterClauses builds WHERE fragments and args for alarm filters.
// Soft-deleted rows are always excluded.
func buildFilterClauses(f Filters) ([]string, []any) {
	where := []string{"deleted_at IS NULL"}
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Severity != "" {
		add("severity = $%d", f.Severity)
	}
	if f.PersonID != "" {
		add("person_id = $%d", f.PersonID)
	}
	if f.RoomID != "" {
		add("room_id = $%d", f.RoomID)
	}
	if f.SiteID != "" {
		add("site_id = $%d", f.SiteID)
	}
	if f.DeviceID != "" {
		add("device_id = $%d", f.DeviceID)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.CreatedAfter != nil {
		add("created_at >= $%d", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		add("created_at <= $%d", *f.CreatedBefore)
	}

	return where, args
}

// Stats aggregates counts over non-deleted alarms.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		ByStatus:   map[string]int{},
		BySeverity: map[string]int{},
	}

	rows, err := s.db.Query(ctx, `SELECT status, severity, count(*)
		FROM alarms WHERE deleted_at IS NULL GROUP BY status, severity`)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregating alarm stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, severity string
		var n int
		if err := rows.Scan(&status, &severity, &n); err != nil {
			return Stats{}, fmt.Errorf("scanning stats row: %w", err)
		}
		stats.Total += n
		stats.ByStatus[status] += n
		stats.BySeverity[severity] += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterating stats rows: %w", err)
	}
	return stats, nil
}

// CreateNote inserts an annotation.
func (s *Store) CreateNote(ctx context.Context, n Note) error {
	_, err := s.db.Exec(ctx, `INSERT INTO alarm_notes (id, alarm_id, created_at, created_by, text, note_type)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.AlarmID, n.CreatedAt, n.CreatedBy, n.Text, n.NoteType)
	if err != nil {
		return fmt.Errorf("inserting alarm note: %w", err)
	}
	return nil
}

// ListNotes returns all notes for an alarm, oldest first.
func (s *Store) ListNotes(ctx context.Context, alarmID uuid.UUID) ([]Note, error) {
	rows, err := s.db.Query(ctx, `SELECT id, alarm_id, created_at, created_by, text, note_type
		FROM alarm_notes WHERE alarm_id = $1 ORDER BY created_at ASC, id ASC`, alarmID)
	if err != nil {
		return nil, fmt.Errorf("listing alarm notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.AlarmID, &n.CreatedAt, &n.CreatedBy, &n.Text, &n.NoteType); err != nil {
			return nil, fmt.Errorf("scanning note row: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating note rows: %w", err)
	}
	return notes, nil
}

// CreateNotification appends one audit row for an outbound attempt.
func (s *Store) CreateNotification(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("encoding notification payload: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO alarm_notifications (id, alarm_id, created_at, channel, target_id, payload, result, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.AlarmID, n.CreatedAt, n.Channel, n.TargetID, payload, n.Result, n.Error)
	if err != nil {
		return fmt.Errorf("inserting notification audit row: %w", err)
	}
	return nil
}

// ListNotifications returns the audit trail for an alarm, oldest first.
func (s *Store) ListNotifications(ctx context.Context, alarmID uuid.UUID) ([]Notification, error) {
	rows, err := s.db.Query(ctx, `SELECT id, alarm_id, created_at, channel, target_id, payload, result, error
		FROM alarm_notifications WHERE alarm_id = $1 ORDER BY created_at ASC, id ASC`, alarmID)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var items []Notification
	for rows.Next() {
		var n Notification
		var payload []byte
		if err := rows.Scan(&n.ID, &n.AlarmID, &n.CreatedAt, &n.Channel, &n.TargetID, &payload, &n.Result, &n.Error); err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &n.Payload); err != nil {
				return nil, fmt.Errorf("decoding notification payload: %w", err)
			}
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification rows: %w", err)
	}
	return items, nil
}
