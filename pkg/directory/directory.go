// Package directory holds the static topology behind alarms: sites,
// rooms, persons and the devices that may trigger. Entries are managed
// by admin upserts and the seed loader, never by the alarm path.
package directory

import "time"

// Site is a physical location grouping rooms.
type Site struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Room is one addressable place inside a site.
type Room struct {
	ID     string  `json:"id"`
	SiteID string  `json:"site_id"`
	Label  string  `json:"label"`
	Floor  *string `json:"floor"`
	Notes  *string `json:"notes"`
}

// Person is someone a device can be bound to.
type Person struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Role        *string `json:"role"`
	Phone       *string `json:"phone"`
	Email       *string `json:"email"`
	Active      bool    `json:"active"`
}

// Device is a trigger-capable appliance. The device token is
// secret-equivalent and never logged in cleartext. A device may only
// trigger while both PersonID and RoomID are bound.
type Device struct {
	ID          string     `json:"id"`
	Vendor      string     `json:"vendor"`
	ModelFamily string     `json:"model_family"`
	HardwareID  *string    `json:"hardware_id"`
	DeviceToken string     `json:"-"`
	PersonID    *string    `json:"person_id"`
	RoomID      *string    `json:"room_id"`
	LastSeenAt  *time.Time `json:"last_seen_at"`
}

// Bound reports whether the device is eligible to trigger.
func (d Device) Bound() bool {
	return d.PersonID != nil && *d.PersonID != "" && d.RoomID != nil && *d.RoomID != ""
}

// Context is the display view of an alarm's bindings. Missing directory
// rows fall back to the raw id strings so notifications never block on
// incomplete data.
type Context struct {
	PersonName string
	RoomLabel  string
	SiteName   string
}
