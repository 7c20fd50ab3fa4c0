// Package escalation holds the policy model and the worker that turns
// alarm events into notifications, tickets and deferred steps.
package escalation

// Target is one notification recipient. The channel tag selects the
// adapter; the address is channel specific (phone number, group id,
// callback URL, empty for the default ticket group).
type Target struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Channel string `json:"channel"`
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
}

// Policy is a named escalation chain. The broker runs a single active
// policy; the first row wins when more than one exists.
type Policy struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Step binds a target to a policy at an ordinal. Step 0 is the
// immediate fan-out; higher steps run after AfterSeconds unless the
// alarm has left TRIGGERED by then.
type Step struct {
	PolicyID     string `json:"policy_id"`
	StepNo       int    `json:"step_no"`
	TargetID     string `json:"target_id"`
	AfterSeconds int    `json:"after_seconds"`
}

// DeferredStep is one step ordinal with its delay, aggregated over the
// step's targets.
type DeferredStep struct {
	StepNo       int
	AfterSeconds int
}
