package automations

import (
	"errors"
	"testing"
	"time"

	"github.com/windlass-io/windlass/internal/controlplane/events"
)

func validAutomation(name string) Automation {
	return Automation{
		Name:    name,
		Enabled: true,
		Trigger: EventTrigger{
			Posture:   Reactive,
			Match:     ResourcePattern{events.ResourceIDLabel: "windlass.flow-run.*"},
			Expect:    []string{"windlass.flow-run.Failed"},
			Threshold: 3,
			Within:    Duration(time.Minute),
		},
		Actions: ActionList{&SuspendFlowRun{Type: KindSuspendFlowRun}},
	}
}

func TestStoreCRUD(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create(validAutomation("suspend-on-failures"))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected an assigned id")
	}

	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Name != "suspend-on-failures" || got.Trigger.Threshold != 3 {
		t.Fatalf("unexpected automation %+v", got)
	}
	if len(got.Actions) != 1 || got.Actions[0].Kind() != KindSuspendFlowRun {
		t.Fatalf("actions did not survive persistence: %+v", got.Actions)
	}

	got.Description = "pause noisy flows"
	got.Trigger.Threshold = 5
	if _, err := store.Update(got); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	got, _ = store.Get(created.ID)
	if got.Trigger.Threshold != 5 {
		t.Fatalf("expected threshold 5 after update, got %d", got.Trigger.Threshold)
	}

	if err := store.Delete(created.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := store.Get(created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStoreRejectsInvalidAutomation(t *testing.T) {
	store := newTestStore(t)

	bad := validAutomation("broken")
	bad.Trigger.Posture = Proactive
	bad.Trigger.After = nil
	if _, err := store.Create(bad); !errors.Is(err, ErrInvalidAutomation) {
		t.Fatalf("expected ErrInvalidAutomation, got %v", err)
	}
	if len(store.List()) != 0 {
		t.Fatal("invalid automation must not be persisted")
	}
}

func TestStoreEnabledFiltersAndSurvivesReload(t *testing.T) {
	store := newTestStore(t)

	on, err := store.Create(validAutomation("on"))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	off := validAutomation("off")
	off.Enabled = false
	if _, err := store.Create(off); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	enabled := store.Enabled()
	if len(enabled) != 1 || enabled[0].ID != on.ID {
		t.Fatalf("expected only the enabled automation, got %+v", enabled)
	}

	// A fresh cache load from the same database sees the same state.
	if err := store.refresh(); err != nil {
		t.Fatalf("refresh error: %v", err)
	}
	if len(store.List()) != 2 || len(store.Enabled()) != 1 {
		t.Fatal("reload changed the stored automations")
	}
}
