package events

import (
	"testing"
	"time"
)

func TestNameMatches(t *testing.T) {
	cases := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"windlass.flow-run.Running", "windlass.flow-run.Running", true},
		{"windlass.flow-run.Running", "windlass.flow-run.Completed", false},
		{"windlass.flow-run.*", "windlass.flow-run.Completed", true},
		{"windlass.flow-run.*", "windlass.deployment.updated", false},
		{"*", "anything.at.all", true},
	}
	for _, tc := range cases {
		if got := NameMatches(tc.pattern, tc.name); got != tc.want {
			t.Errorf("NameMatches(%q, %q) = %v, want %v", tc.pattern, tc.name, got, tc.want)
		}
	}
}

func TestFilterMatchesOccurredRange(t *testing.T) {
	now := time.Now().UTC()
	ev := Event{
		ID:       "ev-1",
		Occurred: now,
		Event:    "windlass.flow-run.Running",
		Resource: Resource{ResourceIDLabel: "windlass.flow-run.r1"},
	}

	if !(Filter{Since: now.Add(-time.Minute), Until: now.Add(time.Minute)}).Matches(ev) {
		t.Fatal("event inside range should match")
	}
	if (Filter{Since: now.Add(time.Second)}).Matches(ev) {
		t.Fatal("event before since should not match")
	}
	if (Filter{Until: now}).Matches(ev) {
		t.Fatal("until is exclusive")
	}
}

func TestFilterMatchesAnyResource(t *testing.T) {
	ev := Event{
		ID:       "ev-1",
		Occurred: time.Now().UTC(),
		Event:    "windlass.flow-run.Running",
		Resource: Resource{ResourceIDLabel: "windlass.flow-run.r1"},
		Related: []Resource{{
			ResourceIDLabel:   "windlass.deployment.d1",
			ResourceRoleLabel: "deployment",
		}},
	}

	if !(Filter{AnyResourceIDs: []string{"windlass.deployment.d1"}}).Matches(ev) {
		t.Fatal("related resource id should match")
	}
	if (Filter{ResourceIDs: []string{"windlass.deployment.d1"}}).Matches(ev) {
		t.Fatal("primary resource filter must not match related resources")
	}
}
