// Package seed loads the directory and escalation configuration from a
// declarative payload. The admin seed endpoint and the CLI seed mode
// both go through Parse and Apply.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/wisbric/redbutton/internal/apperr"
	"github.com/wisbric/redbutton/pkg/connector"
	"github.com/wisbric/redbutton/pkg/directory"
	"github.com/wisbric/redbutton/pkg/escalation"
)

// DeviceInput is the seed shape of a device. Unlike the API type it
// carries the raw device token; tokens stay out of logs either way.
type DeviceInput struct {
	ID          string  `json:"id"`
	Vendor      string  `json:"vendor"`
	ModelFamily string  `json:"model_family"`
	HardwareID  *string `json:"hardware_id"`
	DeviceToken string  `json:"device_token"`
	PersonID    *string `json:"person_id"`
	RoomID      *string `json:"room_id"`
}

// Payload is the full declarative configuration. Every list is
// optional; upserts are keyed by id, devices by device_token.
type Payload struct {
	Sites             []directory.Site    `json:"sites"`
	Rooms             []directory.Room    `json:"rooms"`
	Persons           []directory.Person  `json:"persons"`
	Devices           []DeviceInput       `json:"devices"`
	EscalationTargets []escalation.Target `json:"escalation_targets"`
	EscalationSteps   []escalation.Step   `json:"escalation_steps"`
	EscalationPolicy  *escalation.Policy  `json:"escalation_policy"`
}

// Summary reports how many rows each Apply section touched.
type Summary map[string]int

var envRefPattern = regexp.MustCompile(`^\$\{([A-Z0-9_]+)\}$`)

// Parse decodes a JSON or YAML payload and expands ${VAR} references
// from the environment. Expanded boolean and digit strings are coerced
// to their native types.
func Parse(data []byte, contentType string) (Payload, error) {
	var raw any
	if strings.Contains(contentType, "yaml") || strings.Contains(contentType, "yml") {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Payload{}, apperr.Wrap(apperr.KindInvalid, "parsing YAML seed payload", err)
		}
	} else {
		if err := json.Unmarshal(data, &raw); err != nil {
			return Payload{}, apperr.Wrap(apperr.KindInvalid, "parsing JSON seed payload", err)
		}
	}

	raw = expand(raw)

	normalized, err := json.Marshal(raw)
	if err != nil {
		return Payload{}, fmt.Errorf("normalizing seed payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(normalized, &p); err != nil {
		return Payload{}, apperr.Wrap(apperr.KindInvalid, "decoding seed payload", err)
	}
	return p, nil
}

// expand walks the decoded structure and substitutes ${VAR} strings.
func expand(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = expand(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = expand(item)
		}
		return val
	case string:
		m := envRefPattern.FindStringSubmatch(val)
		if m == nil {
			return val
		}
		return coerce(os.Getenv(m[1]))
	default:
		return v
	}
}

// coerce maps expanded env strings onto native types where the value
// is unambiguous.
func coerce(s string) any {
	switch s {
	case "true", "True":
		return true
	case "false", "False":
		return false
	}
	if s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return s
}

// Apply upserts the whole payload inside one transaction. Escalation
// steps are validated against the target set before anything commits.
func Apply(ctx context.Context, pool *pgxpool.Pool, p Payload, logger *slog.Logger) (Summary, error) {
	if err := validate(p); err != nil {
		return nil, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	dir := directory.NewStore(tx)
	esc := escalation.NewStore(tx)
	summary := Summary{}

	for _, site := range p.Sites {
		if err := dir.UpsertSite(ctx, site); err != nil {
			return nil, err
		}
	}
	summary["sites"] = len(p.Sites)

	for _, room := range p.Rooms {
		if err := dir.UpsertRoom(ctx, room); err != nil {
			return nil, err
		}
	}
	summary["rooms"] = len(p.Rooms)

	for _, person := range p.Persons {
		if err := dir.UpsertPerson(ctx, person); err != nil {
			return nil, err
		}
	}
	summary["persons"] = len(p.Persons)

	for _, d := range p.Devices {
		dev := directory.Device{
			ID:          d.ID,
			Vendor:      d.Vendor,
			ModelFamily: d.ModelFamily,
			HardwareID:  d.HardwareID,
			DeviceToken: d.DeviceToken,
			PersonID:    d.PersonID,
			RoomID:      d.RoomID,
		}
		if err := dir.UpsertDevice(ctx, dev); err != nil {
			return nil, err
		}
	}
	summary["devices"] = len(p.Devices)

	for _, target := range p.EscalationTargets {
		if err := esc.UpsertTarget(ctx, target); err != nil {
			return nil, err
		}
	}
	summary["escalation_targets"] = len(p.EscalationTargets)

	if p.EscalationPolicy != nil {
		stepTargets := make([]string, 0, len(p.EscalationSteps))
		for _, step := range p.EscalationSteps {
			stepTargets = append(stepTargets, step.TargetID)
		}
		missing, err := esc.MissingTargets(ctx, stepTargets)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			return nil, apperr.Invalid(fmt.Sprintf("escalation steps reference unknown targets: %v", missing))
		}
		if err := esc.UpsertPolicy(ctx, *p.EscalationPolicy); err != nil {
			return nil, err
		}
		steps := make([]escalation.Step, 0, len(p.EscalationSteps))
		for _, step := range p.EscalationSteps {
			step.PolicyID = p.EscalationPolicy.ID
			steps = append(steps, step)
		}
		if err := esc.ReplaceSteps(ctx, p.EscalationPolicy.ID, steps); err != nil {
			return nil, err
		}
		summary["escalation_steps"] = len(steps)
		summary["escalation_policy"] = 1
	} else if len(p.EscalationSteps) > 0 {
		return nil, apperr.Invalid("escalation_steps require an escalation_policy")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing seed transaction: %w", err)
	}

	logger.Info("seed applied",
		"sites", summary["sites"],
		"rooms", summary["rooms"],
		"persons", summary["persons"],
		"devices", summary["devices"],
		"escalation_targets", summary["escalation_targets"],
	)
	return summary, nil
}

// validate runs the payload-level checks that need no database access.
func validate(p Payload) error {
	for _, d := range p.Devices {
		if d.ID == "" {
			return apperr.Invalid("device id is required")
		}
		if d.DeviceToken == "" {
			return apperr.Invalid("device " + d.ID + " has no device_token")
		}
	}
	for _, t := range p.EscalationTargets {
		if t.ID == "" {
			return apperr.Invalid("escalation target id is required")
		}
		if !connector.ValidChannel(t.Channel) {
			return apperr.Invalid("escalation target " + t.ID + " has unknown channel " + t.Channel)
		}
	}
	seen := make(map[string]bool, len(p.EscalationSteps))
	for _, step := range p.EscalationSteps {
		key := strconv.Itoa(step.StepNo) + ":" + step.TargetID
		if seen[key] {
			return apperr.Conflict(fmt.Sprintf("duplicate escalation step (%d, %s)", step.StepNo, step.TargetID))
		}
		seen[key] = true
		if step.StepNo < 0 || step.AfterSeconds < 0 {
			return apperr.Invalid("escalation step ordinals and delays must not be negative")
		}
	}
	return nil
}
