package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/redbutton/internal/platform"
)

// Store provides database operations over the directory tables.
type Store struct {
	db platform.DBTX
}

// NewStore creates a directory Store.
func NewStore(db platform.DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to the given transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

// UpsertSite inserts or updates a site keyed by id.
func (s *Store) UpsertSite(ctx context.Context, site Site) error {
	_, err := s.db.Exec(ctx, `INSERT INTO sites (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, site.ID, site.Name)
	if err != nil {
		return fmt.Errorf("upserting site %s: %w", site.ID, err)
	}
	return nil
}

// UpsertRoom inserts or updates a room keyed by id.
func (s *Store) UpsertRoom(ctx context.Context, room Room) error {
	_, err := s.db.Exec(ctx, `INSERT INTO rooms (id, site_id, label, floor, notes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			site_id = EXCLUDED.site_id, label = EXCLUDED.label,
			floor = EXCLUDED.floor, notes = EXCLUDED.notes`,
		room.ID, room.SiteID, room.Label, room.Floor, room.Notes)
	if err != nil {
		return fmt.Errorf("upserting room %s: %w", room.ID, err)
	}
	return nil
}

// UpsertPerson inserts or updates a person keyed by id.
func (s *Store) UpsertPerson(ctx context.Context, p Person) error {
	_, err := s.db.Exec(ctx, `INSERT INTO persons (id, display_name, role, phone, email, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name, role = EXCLUDED.role,
			phone = EXCLUDED.phone, email = EXCLUDED.email, active = EXCLUDED.active`,
		p.ID, p.DisplayName, p.Role, p.Phone, p.Email, p.Active)
	if err != nil {
		return fmt.Errorf("upserting person %s: %w", p.ID, err)
	}
	return nil
}

// UpsertDevice inserts or updates a device keyed by device_token, so
// rotating a binding never duplicates the physical appliance.
func (s *Store) UpsertDevice(ctx context.Context, d Device) error {
	_, err := s.db.Exec(ctx, `INSERT INTO devices (id, vendor, model_family, hardware_id, device_token, person_id, room_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_token) DO UPDATE SET
			vendor = EXCLUDED.vendor, model_family = EXCLUDED.model_family,
			hardware_id = EXCLUDED.hardware_id,
			person_id = EXCLUDED.person_id, room_id = EXCLUDED.room_id`,
		d.ID, d.Vendor, d.ModelFamily, d.HardwareID, d.DeviceToken, d.PersonID, d.RoomID)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

const deviceColumns = `id, vendor, model_family, hardware_id, device_token, person_id, room_id, last_seen_at`

func scanDevice(row pgx.Row) (Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.Vendor, &d.ModelFamily, &d.HardwareID,
		&d.DeviceToken, &d.PersonID, &d.RoomID, &d.LastSeenAt)
	return d, err
}

// GetDeviceByToken resolves a device by its secret token.
func (s *Store) GetDeviceByToken(ctx context.Context, token string) (Device, error) {
	row := s.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_token = $1`, token)
	return scanDevice(row)
}

// GetDevice resolves a device by id.
func (s *Store) GetDevice(ctx context.Context, id string) (Device, error) {
	row := s.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
	return scanDevice(row)
}

// TouchDevice stamps last_seen_at.
func (s *Store) TouchDevice(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.Exec(ctx, `UPDATE devices SET last_seen_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("updating device last_seen: %w", err)
	}
	return nil
}

// PersonExists reports whether a person row exists.
func (s *Store) PersonExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM persons WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("checking person %s: %w", id, err)
	}
	return ok, nil
}

// RoomSite returns the owning site id of a room, or "" when the room
// is unknown.
func (s *Store) RoomSite(ctx context.Context, roomID string) (string, error) {
	var siteID *string
	err := s.db.QueryRow(ctx, `SELECT site_id FROM rooms WHERE id = $1`, roomID).Scan(&siteID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving room site: %w", err)
	}
	if siteID == nil {
		return "", nil
	}
	return *siteID, nil
}

// Enrich resolves display names for an alarm's bindings. Any missing
// row falls back to the raw id; enrichment never fails the caller.
func (s *Store) Enrich(ctx context.Context, personID, roomID, siteID *string) (Context, error) {
	c := Context{
		PersonName: deref(personID),
		RoomLabel:  deref(roomID),
		SiteName:   deref(siteID),
	}

	if personID != nil && *personID != "" {
		var name string
		err := s.db.QueryRow(ctx, `SELECT display_name FROM persons WHERE id = $1`, *personID).Scan(&name)
		if err == nil {
			c.PersonName = name
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return c, fmt.Errorf("enriching person: %w", err)
		}
	}
	if roomID != nil && *roomID != "" {
		var label string
		err := s.db.QueryRow(ctx, `SELECT label FROM rooms WHERE id = $1`, *roomID).Scan(&label)
		if err == nil {
			c.RoomLabel = label
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return c, fmt.Errorf("enriching room: %w", err)
		}
	}
	if siteID != nil && *siteID != "" {
		var name string
		err := s.db.QueryRow(ctx, `SELECT name FROM sites WHERE id = $1`, *siteID).Scan(&name)
		if err == nil {
			c.SiteName = name
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return c, fmt.Errorf("enriching site: %w", err)
		}
	}
	return c, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
