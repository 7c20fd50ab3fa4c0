// Package notify builds notification payloads and fans them out to the
// escalation targets of a step, isolating per-target failure and
// recording one audit row per dispatch.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/wisbric/redbutton/pkg/alarm"
	"github.com/wisbric/redbutton/pkg/directory"
)

// severityPriority maps severity tags to channel priority.
var severityPriority = map[string]int{
	alarm.SeverityP0: 3,
	alarm.SeverityP1: 2,
	alarm.SeverityP2: 2,
	alarm.SeverityP3: 1,
}

// Priority returns the channel priority for a severity tag, defaulting
// to the lowest.
func Priority(severity string) int {
	if p, ok := severityPriority[severity]; ok {
		return p
	}
	return 1
}

// Payload is the step-level notification content, built once and sent
// to every target of the step.
type Payload struct {
	AlarmID  string   `json:"alarm_id"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Tags     []string `json:"tags"`
	Priority int      `json:"priority"`
	StepNo   int      `json:"step_no"`
	AckURL   string   `json:"ack_url"`
}

// BuildPayload constructs the canonical payload for one step of one
// alarm. Step 0 is the immediate fan-out; higher steps carry the
// escalation stage in the title.
func BuildPayload(a alarm.Alarm, dctx directory.Context, stepNo int, ackURL string) Payload {
	location := dctx.RoomLabel
	if dctx.SiteName != "" {
		location = fmt.Sprintf("%s (%s)", dctx.RoomLabel, dctx.SiteName)
	}

	var title string
	if stepNo == 0 {
		title = fmt.Sprintf("EMERGENCY ALARM - %s - %s", dctx.PersonName, dctx.RoomLabel)
	} else {
		title = fmt.Sprintf("ESCALATION stage %d - %s - %s", stepNo, dctx.PersonName, dctx.RoomLabel)
	}

	var tags []string
	if stepNo == 0 {
		tags = append(tags, "emergency")
	}
	if a.Severity == alarm.SeverityP0 {
		tags = append(tags, "silent")
	}

	header := "EMERGENCY ALARM"
	if a.Silent {
		header += " (silent)"
	}
	lines := []string{
		header,
		"Alarm ID: " + a.ID.String(),
		"Person: " + dctx.PersonName,
		"Location: " + location,
		"Time: " + a.CreatedAt.UTC().Format(time.RFC3339),
		fmt.Sprintf("Stage: %d", stepNo),
		"Acknowledge: " + ackURL,
	}

	return Payload{
		AlarmID:  a.ID.String(),
		Title:    title,
		Body:     strings.Join(lines, "\n"),
		Tags:     tags,
		Priority: Priority(a.Severity),
		StepNo:   stepNo,
		AckURL:   ackURL,
	}
}
