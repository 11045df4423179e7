package automations

import (
	"fmt"
	"strings"

	"github.com/windlass-io/windlass/internal/controlplane/events"
)

// ResourcePattern is a set of label requirements. Every entry must hold for
// a resource to match. Values are exact strings, "*" (any value), or a
// prefix wildcard like "windlass.flow-run.*".
type ResourcePattern map[string]string

// Validate rejects patterns with empty keys or values; a pattern that can
// never match anything is an authoring mistake, not a runtime condition.
func (p ResourcePattern) Validate() error {
	for label, pattern := range p {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("empty label key")
		}
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("empty pattern for label %q", label)
		}
	}
	return nil
}

// Matches reports whether the resource satisfies every label requirement.
// An empty pattern matches everything.
func (p ResourcePattern) Matches(r events.Resource) bool {
	for label, pattern := range p {
		value, ok := r[label]
		if !ok || !labelMatches(pattern, value) {
			return false
		}
	}
	return true
}

// MatchesRelated reports whether at least one related resource satisfies
// the full pattern.
func (p ResourcePattern) MatchesRelated(related []events.Resource) bool {
	for _, r := range related {
		if p.Matches(r) {
			return true
		}
	}
	return false
}

// labelMatches applies the same wildcard grammar used for event names.
func labelMatches(pattern, value string) bool {
	return events.NameMatches(pattern, value)
}

// anyNameMatches reports whether the event name satisfies at least one of
// the patterns. An empty pattern list matches any name.
func anyNameMatches(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if events.NameMatches(p, name) {
			return true
		}
	}
	return false
}
