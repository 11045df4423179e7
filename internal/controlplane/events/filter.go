package events

import (
	"strings"
	"time"
)

// Filter narrows a set of events. All populated clauses must match
// (conjunction); empty clauses match everything.
type Filter struct {
	// Since/Until bound Occurred (inclusive since, exclusive until).
	Since time.Time `json:"since,omitzero"`
	Until time.Time `json:"until,omitzero"`
	// Names match event names; a trailing "*" matches by prefix
	// ("windlass.flow-run.*").
	Names []string `json:"names,omitempty"`
	// ResourceIDs match the primary resource id.
	ResourceIDs []string `json:"resource_ids,omitempty"`
	// AnyResourceIDs match the primary resource id or any related
	// resource id.
	AnyResourceIDs []string `json:"any_resource_ids,omitempty"`
}

// Matches reports whether the event satisfies every clause of the filter.
func (f Filter) Matches(e Event) bool {
	if !f.Since.IsZero() && e.Occurred.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Occurred.Before(f.Until) {
		return false
	}
	if len(f.Names) > 0 && !matchesAnyName(f.Names, e.Event) {
		return false
	}
	if len(f.ResourceIDs) > 0 && !containsString(f.ResourceIDs, e.Resource.ID()) {
		return false
	}
	if len(f.AnyResourceIDs) > 0 {
		found := containsString(f.AnyResourceIDs, e.Resource.ID())
		for _, r := range e.Related {
			if found {
				break
			}
			found = containsString(f.AnyResourceIDs, r.ID())
		}
		if !found {
			return false
		}
	}
	return true
}

// NameMatches reports whether an event name satisfies a single pattern.
// Patterns are exact names, "*", or a prefix followed by "*".
func NameMatches(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return pattern == name
}

func matchesAnyName(patterns []string, name string) bool {
	for _, p := range patterns {
		if NameMatches(p, name) {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
