package automations

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

const seedYAML = `- name: suspend-on-failures
  enabled: true
  trigger:
    posture: Reactive
    match:
      windlass.resource.id: windlass.flow-run.*
    expect:
      - windlass.flow-run.Failed
    threshold: 3
    within: 60s
  actions:
    - type: suspend-flow-run
- name: alert-on-stuck-runs
  enabled: true
  trigger:
    posture: Proactive
    after:
      - windlass.flow-run.Running
    expect:
      - windlass.flow-run.Completed
      - windlass.flow-run.Failed
    within: 15m
  actions:
    - type: send-notification
      subject: flow run appears stuck
`

func writeSeedFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "automations.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing seed file: %v", err)
	}
	return path
}

func TestLoadSeedFile(t *testing.T) {
	autos, err := LoadSeedFile(writeSeedFile(t, seedYAML))
	if err != nil {
		t.Fatalf("LoadSeedFile error: %v", err)
	}
	if len(autos) != 2 {
		t.Fatalf("expected 2 automations, got %d", len(autos))
	}
	if autos[0].Trigger.Within.Duration() != time.Minute {
		t.Fatalf("expected 60s window, got %s", autos[0].Trigger.Within.Duration())
	}
	if autos[1].Trigger.Posture != Proactive {
		t.Fatalf("expected Proactive, got %s", autos[1].Trigger.Posture)
	}
	if autos[1].Actions[0].Kind() != KindSendNotification {
		t.Fatalf("unexpected action %s", autos[1].Actions[0].Kind())
	}
}

func TestLoadSeedFileRejectsInvalid(t *testing.T) {
	bad := `- name: broken
  trigger:
    posture: Proactive
    within: 10s
  actions: []
`
	if _, err := LoadSeedFile(writeSeedFile(t, bad)); err == nil {
		t.Fatal("expected validation error for proactive trigger without after")
	}
}

func TestSeedIsIdempotentByName(t *testing.T) {
	store := newTestStore(t)
	autos, err := LoadSeedFile(writeSeedFile(t, seedYAML))
	if err != nil {
		t.Fatalf("LoadSeedFile error: %v", err)
	}

	if err := store.Seed(autos, zap.NewNop()); err != nil {
		t.Fatalf("Seed error: %v", err)
	}
	if err := store.Seed(autos, zap.NewNop()); err != nil {
		t.Fatalf("second Seed error: %v", err)
	}
	if got := len(store.List()); got != 2 {
		t.Fatalf("expected 2 automations after re-seeding, got %d", got)
	}

	// User edits survive a re-seed.
	list := store.List()
	edited := list[0]
	edited.Trigger.Threshold = 9
	if _, err := store.Update(edited); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if err := store.Seed(autos, zap.NewNop()); err != nil {
		t.Fatalf("third Seed error: %v", err)
	}
	got, _ := store.Get(edited.ID)
	if got.Trigger.Threshold != 9 {
		t.Fatal("re-seeding must not overwrite user edits")
	}
}
