// Package automations implements the event-driven automation pipeline:
// user-authored automations (a trigger plus ordered actions), the sliding
// window tracker, the trigger engine, and the action dispatch/execution
// framework. Events flow in, firings come out, actions run against the
// orchestrated system, and their outcomes re-enter the event stream.
package automations

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/windlass-io/windlass/internal/controlplane/events"
)

// Posture selects the firing mode of a trigger.
type Posture string

const (
	// Reactive fires when enough matching events arrive inside the
	// window: "this happened too often".
	Reactive Posture = "Reactive"
	// Proactive fires when an expected event does not arrive in time:
	// "this didn't happen".
	Proactive Posture = "Proactive"
)

// TriggerState describes why a firing occurred. Currently only Triggered;
// kept as an enumeration for future states (Resolved, Acknowledged).
type TriggerState string

const Triggered TriggerState = "Triggered"

// Duration is a time.Duration that marshals as a Go duration string and
// accepts either a string ("90s", "2m") or a number of seconds.
type Duration time.Duration

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

// EventTrigger decides when an automation fires.
type EventTrigger struct {
	// Match filters the primary resource of candidate events.
	Match ResourcePattern `json:"match,omitempty"`
	// MatchRelated requires at least one related resource to satisfy
	// the pattern set.
	MatchRelated ResourcePattern `json:"match_related,omitempty"`
	// After arms the window. Empty means every Expect match is itself
	// window-opening.
	After []string `json:"after,omitempty"`
	// Expect are the events being counted (Reactive) or awaited
	// (Proactive). Empty matches any event.
	Expect []string `json:"expect,omitempty"`

	Posture Posture `json:"posture"`
	// Threshold is the count needed to fire a Reactive trigger;
	// 0 means any single matching event fires immediately.
	Threshold int      `json:"threshold"`
	Within    Duration `json:"within"`
}

// Validate rejects malformed triggers at authoring time, so evaluation
// never has to.
func (t EventTrigger) Validate() error {
	switch t.Posture {
	case Reactive, Proactive:
	default:
		return fmt.Errorf("posture must be Reactive or Proactive, got %q", t.Posture)
	}
	if t.Threshold < 0 {
		return fmt.Errorf("threshold must be non-negative")
	}
	if t.Within < 0 {
		return fmt.Errorf("within must be non-negative")
	}
	if t.Posture == Proactive {
		if t.Within <= 0 {
			return fmt.Errorf("a Proactive trigger needs a positive within window")
		}
		if len(t.After) == 0 {
			return fmt.Errorf("a Proactive trigger needs at least one after event")
		}
	}
	if err := t.Match.Validate(); err != nil {
		return fmt.Errorf("match: %w", err)
	}
	if err := t.MatchRelated.Validate(); err != nil {
		return fmt.Errorf("match_related: %w", err)
	}
	for _, p := range append(append([]string{}, t.After...), t.Expect...) {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("empty event name pattern")
		}
	}
	return nil
}

// Automation is one user-defined rule: fire the trigger, run the actions.
type Automation struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Enabled     bool         `json:"enabled"`
	Trigger     EventTrigger `json:"trigger"`
	Actions     ActionList   `json:"actions"`
	CreatedAt   time.Time    `json:"created_at,omitzero"`
	UpdatedAt   time.Time    `json:"updated_at,omitzero"`
}

// Validate checks the whole automation, trigger and actions included.
func (a Automation) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("automation name required")
	}
	if err := a.Trigger.Validate(); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	for i, act := range a.Actions {
		if err := act.Validate(); err != nil {
			return fmt.Errorf("action %d (%s): %w", i, act.Kind(), err)
		}
	}
	return nil
}

// Firing is one qualifying evaluation of a trigger. Immutable once
// produced; exactly one per window epoch.
type Firing struct {
	ID            string `json:"id"`
	AutomationID  string `json:"automation_id"`
	Trigger       EventTrigger   `json:"trigger"`
	TriggerStates []TriggerState `json:"trigger_states"`
	Triggered     time.Time      `json:"triggered"`
	// TriggeringLabels resolve the identity the trigger instance fired
	// for (the watched resource).
	TriggeringLabels map[string]string `json:"triggering_labels"`
	// TriggeringEvent is nil for pure timeout-caused Proactive firings.
	TriggeringEvent *events.Event `json:"triggering_event,omitempty"`
}

// ActionStatus is the execution state of one TriggeredAction.
type ActionStatus string

const (
	StatusPending   ActionStatus = "Pending"
	StatusActing    ActionStatus = "Acting"
	StatusSucceeded ActionStatus = "Succeeded"
	StatusFailed    ActionStatus = "Failed"
)

// TriggeredAction binds one action of an automation to one firing. ID is
// the invocation identity: stable across redelivery of the same logical
// firing, so re-execution is detectable.
type TriggeredAction struct {
	ID               string            `json:"id"`
	AutomationID     string            `json:"automation_id"`
	AutomationName   string            `json:"automation_name"`
	ActionIndex      int               `json:"action_index"`
	Action           Action            `json:"action"`
	Firing           Firing            `json:"firing"`
	Triggered        time.Time         `json:"triggered"`
	TriggeringLabels map[string]string `json:"triggering_labels"`
	TriggeringEvent  *events.Event     `json:"triggering_event,omitempty"`
	Status           ActionStatus      `json:"status"`
}

// TargetResourceID returns the resource the action should operate on: the
// identity the trigger instance fired for.
func (ta *TriggeredAction) TargetResourceID() string {
	return ta.TriggeringLabels[events.ResourceIDLabel]
}
