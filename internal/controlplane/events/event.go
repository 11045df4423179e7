// Package events defines the canonical event model for the control plane:
// the Event shape, filters, the in-process pub/sub bus, and the persistent
// event store with pagination and counting.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known resource label keys.
const (
	ResourceIDLabel   = "windlass.resource.id"
	ResourceRoleLabel = "windlass.resource.role"
)

// Outcome event names emitted by the action execution framework.
const (
	ActionExecuted = "windlass.automation.action.executed"
	ActionFailed   = "windlass.automation.action.failed"
)

// Resource is a labelled entity an event is about. A primary resource must
// carry ResourceIDLabel; related resources additionally carry
// ResourceRoleLabel describing their relationship to the primary resource.
type Resource map[string]string

// ID returns the identifying label value, or "" if absent.
func (r Resource) ID() string {
	return r[ResourceIDLabel]
}

// Role returns the role label value, or "" if absent.
func (r Resource) Role() string {
	return r[ResourceRoleLabel]
}

// Event is one lifecycle event. Events are immutable once stored; identity
// is ID, and Occurred (not receipt time) drives ordering and window
// placement.
type Event struct {
	ID       string         `json:"id"`
	Occurred time.Time      `json:"occurred"`
	Event    string         `json:"event"`
	Resource Resource       `json:"resource"`
	Related  []Resource     `json:"related,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Received time.Time      `json:"received,omitzero"`
}

// Receive stamps the event as received by the server, assigning an ID and
// Occurred time if the producer omitted them.
func (e Event) Receive() Event {
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	e.Received = now
	return e
}

// Validate checks the minimal invariants for an ingested event.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Event) == "" {
		return fmt.Errorf("event name required")
	}
	if len(e.Resource) == 0 {
		return fmt.Errorf("event resource required")
	}
	if e.Resource.ID() == "" {
		return fmt.Errorf("event resource must carry %s", ResourceIDLabel)
	}
	return nil
}

// RelatedWithRole returns the related resources carrying the given role.
func (e Event) RelatedWithRole(role string) []Resource {
	var out []Resource
	for _, r := range e.Related {
		if r.Role() == role {
			out = append(out, r)
		}
	}
	return out
}
