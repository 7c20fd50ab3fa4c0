package seed

import (
	"testing"

	"github.com/wisbric/redbutton/internal/apperr"
	"github.com/wisbric/redbutton/pkg/escalation"
)

func TestParseJSONWithEnvExpansion(t *testing.T) {
	t.Setenv("SEED_DEVICE_TOKEN", "tok-abc")
	t.Setenv("SEED_TARGET_ENABLED", "true")
	t.Setenv("SEED_STEP_DELAY", "300")

	data := []byte(`{
		"sites": [{"id": "s1", "name": "North Wing"}],
		"devices": [{"id": "d1", "device_token": "${SEED_DEVICE_TOKEN}"}],
		"escalation_targets": [{"id": "t1", "channel": "sms", "enabled": "${SEED_TARGET_ENABLED}"}],
		"escalation_steps": [{"step_no": 1, "target_id": "t1", "after_seconds": "${SEED_STEP_DELAY}"}],
		"escalation_policy": {"id": "p1", "name": "Default"}
	}`)

	p, err := Parse(data, "application/json")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if p.Devices[0].DeviceToken != "tok-abc" {
		t.Errorf("device token = %q, want expanded value", p.Devices[0].DeviceToken)
	}
	if !p.EscalationTargets[0].Enabled {
		t.Error("enabled = false, want coerced true")
	}
	if p.EscalationSteps[0].AfterSeconds != 300 {
		t.Errorf("after_seconds = %d, want coerced 300", p.EscalationSteps[0].AfterSeconds)
	}
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
sites:
  - id: s1
    name: North Wing
rooms:
  - id: r1
    site_id: s1
    label: Room 214
escalation_policy:
  id: p1
  name: Default
`)
	p, err := Parse(data, "application/yaml")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(p.Sites) != 1 || p.Sites[0].Name != "North Wing" {
		t.Errorf("sites = %+v", p.Sites)
	}
	if len(p.Rooms) != 1 || p.Rooms[0].SiteID != "s1" {
		t.Errorf("rooms = %+v", p.Rooms)
	}
	if p.EscalationPolicy == nil || p.EscalationPolicy.ID != "p1" {
		t.Errorf("policy = %+v", p.EscalationPolicy)
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	if _, err := Parse([]byte("{nope"), "application/json"); apperr.KindOf(err) != apperr.KindInvalid {
		t.Errorf("malformed JSON kind = %v, want invalid", apperr.KindOf(err))
	}
	if _, err := Parse([]byte("\t- broken"), "application/yaml"); apperr.KindOf(err) != apperr.KindInvalid {
		t.Errorf("malformed YAML kind = %v, want invalid", apperr.KindOf(err))
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"False", false},
		{"42", 42},
		{"0", 0},
		{"+49151", "+49151"},
		{"hello", "hello"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := coerce(tt.in); got != tt.want {
			t.Errorf("coerce(%q) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		payload  Payload
		wantKind apperr.Kind
	}{
		{
			"device without token",
			Payload{Devices: []DeviceInput{{ID: "d1"}}},
			apperr.KindInvalid,
		},
		{
			"target with bad channel",
			Payload{EscalationTargets: []escalation.Target{{ID: "t1", Channel: "fax"}}},
			apperr.KindInvalid,
		},
		{
			"duplicate step pair",
			Payload{EscalationSteps: []escalation.Step{
				{StepNo: 1, TargetID: "t1"},
				{StepNo: 1, TargetID: "t1"},
			}},
			apperr.KindConflict,
		},
		{
			"negative delay",
			Payload{EscalationSteps: []escalation.Step{{StepNo: 1, TargetID: "t1", AfterSeconds: -5}}},
			apperr.KindInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.payload)
			if apperr.KindOf(err) != tt.wantKind {
				t.Errorf("validate() kind = %v, want %v (err: %v)", apperr.KindOf(err), tt.wantKind, err)
			}
		})
	}
}
