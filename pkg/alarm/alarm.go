// Package alarm owns the alarm lifecycle: the record itself, the
// transition table, notes and the notification audit trail.
package alarm

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an alarm.
type Status string

const (
	StatusTriggered    Status = "TRIGGERED"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusResolved     Status = "RESOLVED"
	StatusCancelled    Status = "CANCELLED"
)

// allowedTransitions is the full transition graph. RESOLVED and
// CANCELLED are terminal.
var allowedTransitions = map[Status]map[Status]bool{
	StatusTriggered: {
		StatusAcknowledged: true,
		StatusResolved:     true,
		StatusCancelled:    true,
	},
	StatusAcknowledged: {
		StatusResolved:  true,
		StatusCancelled: true,
	},
	StatusResolved:  {},
	StatusCancelled: {},
}

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransition reports whether from → to is an allowed transition.
// A same-status pair is not a transition; callers treat it as a no-op.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// Severities, most urgent first. P0 alarms are silent by convention.
const (
	SeverityP0 = "P0"
	SeverityP1 = "P1"
	SeverityP2 = "P2"
	SeverityP3 = "P3"
)

// ValidSeverity reports whether s is a known severity tag.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityP0, SeverityP1, SeverityP2, SeverityP3:
		return true
	}
	return false
}

// Alarm is one durable emergency record. Directory bindings may be nil
// when a device was unbound after the fact; display code falls back to
// the raw id strings.
type Alarm struct {
	ID               uuid.UUID      `json:"id"`
	Status           Status         `json:"status"`
	Source           string         `json:"source"`
	Event            string         `json:"event"`
	CreatedAt        time.Time      `json:"created_at"`
	PersonID         *string        `json:"person_id"`
	RoomID           *string        `json:"room_id"`
	SiteID           *string        `json:"site_id"`
	DeviceID         *string        `json:"device_id"`
	Severity         string         `json:"severity"`
	Silent           bool           `json:"silent"`
	ExternalTicketID *string        `json:"external_ticket_id"`
	AckToken         string         `json:"ack_token"`
	AckedAt          *time.Time     `json:"acked_at"`
	AckedBy          *string        `json:"acked_by"`
	ResolvedAt       *time.Time     `json:"resolved_at"`
	ResolvedBy       *string        `json:"resolved_by"`
	CancelledAt      *time.Time     `json:"cancelled_at"`
	CancelledBy      *string        `json:"cancelled_by"`
	DeletedAt        *time.Time     `json:"deleted_at"`
	DeletedBy        *string        `json:"deleted_by"`
	Meta             map[string]any `json:"meta"`
}

// Note types.
const (
	NoteManual     = "manual"
	NoteSystem     = "system"
	NoteEscalation = "escalation"
)

// Note is a free-text annotation on an alarm, created once and never
// mutated.
type Note struct {
	ID        uuid.UUID `json:"id"`
	AlarmID   uuid.UUID `json:"alarm_id"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	Text      string    `json:"text"`
	NoteType  string    `json:"note_type"`
}

// Notification results.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
	ResultUnknown = "unknown"
)

// Notification is one append-only audit row for an outbound dispatch
// attempt.
type Notification struct {
	ID        uuid.UUID      `json:"id"`
	AlarmID   uuid.UUID      `json:"alarm_id"`
	CreatedAt time.Time      `json:"created_at"`
	Channel   string         `json:"channel"`
	TargetID  *string        `json:"target_id"`
	Payload   map[string]any `json:"payload"`
	Result    string         `json:"result"`
	Error     *string        `json:"error"`
}

// Stats aggregates alarm counts for the operator dashboard.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	BySeverity map[string]int `json:"by_severity"`
}
